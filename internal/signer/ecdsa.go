package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/selesy/x402-gate/pkg/api"
)

var _ api.EVMSigner = (*ECDSASigner)(nil)

// ECDSASigner is an api.Signer that creates a cryptographic signature
// using an ecdsa.PrivateKey held in memory.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewECDSASigner validates that priv is a usable secp256k1 key.  Key
// problems are reported here rather than when the first payment is
// signed.
func NewECDSASigner(priv *ecdsa.PrivateKey) (*ECDSASigner, error) {
	if priv == nil || priv.D == nil {
		return nil, ErrInvalidKey
	}

	if priv.Curve != crypto.S256() {
		return nil, ErrInvalidCurve
	}

	if priv.X == nil || priv.Y == nil || !priv.Curve.IsOnCurve(priv.X, priv.Y) {
		return nil, ErrInvalidPoint
	}

	return &ECDSASigner{
		priv: priv,
		addr: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// NewECDSASignerFromBytes parses a 32-byte secp256k1 scalar.
func NewECDSASignerFromBytes(b []byte) (*ECDSASigner, error) {
	priv, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return NewECDSASigner(priv)
}

// NewECDSASignerFromHex parses a hexadecimal private key, with or without
// a 0x prefix.
func NewECDSASignerFromHex(s string) (*ECDSASigner, error) {
	privBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return NewECDSASignerFromBytes(privBytes)
}

// NewECDSASignerFromEnv reads a hexadecimal private key from the
// environment variable called name.
func NewECDSASignerFromEnv(name string) (*ECDSASigner, error) {
	privHex := os.Getenv(name)
	if privHex == "" {
		return nil, fmt.Errorf("%w: %s", ErrEnvVarNotFound, name)
	}

	return NewECDSASignerFromHex(privHex)
}

func (s *ECDSASigner) Address() common.Address {
	return s.addr
}

// Sign returns a 65-byte [R || S || V] signature with V in {0, 1}.
func (s *ECDSASigner) Sign(digestHash []byte) ([]byte, error) {
	return crypto.Sign(digestHash, s.priv)
}
