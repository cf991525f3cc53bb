// Package decred creates paying gate clients from keys held as Decred
// secp256k1 private keys.
package decred

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	gate "github.com/selesy/x402-gate"
	"github.com/selesy/x402-gate/internal/signer"
)

// ClientForPrivateKey returns an http.Client that pays for x402 content
// from the Ethereum account controlled by the provided secp256k1 private
// key.
func ClientForPrivateKey(priv *secp256k1.PrivateKey, opts ...gate.Option) (*http.Client, error) {
	if priv == nil {
		return nil, signer.ErrInvalidKey
	}

	s, err := signer.NewECDSASignerFromBytes(priv.Serialize())
	if err != nil {
		return nil, err
	}

	return gate.ClientForSigner(s, opts...)
}

// ClientForPrivateKeyHex is like ClientForPrivateKey except that the
// private key is parsed from the provided hexadecimal string.
func ClientForPrivateKeyHex(privHex string, opts ...gate.Option) (*http.Client, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", signer.ErrInvalidKey, err)
	}

	return ClientForPrivateKey(secp256k1.PrivKeyFromBytes(privBytes), opts...)
}

// ClientForPrivateKeyHexFromEnv is like ClientForPrivateKeyHex except that
// hexadecimal string is read from the environment variable selected by name.
func ClientForPrivateKeyHexFromEnv(name string, opts ...gate.Option) (*http.Client, error) {
	s, err := signer.NewECDSASignerFromEnv(name)
	if err != nil {
		return nil, err
	}

	return gate.ClientForSigner(s, opts...)
}
