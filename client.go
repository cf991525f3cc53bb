package gate

import (
	"crypto/ecdsa"
	"net/http"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"

	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
)

// ClientForSigner returns an http.Client whose transport pays for
// requests with signatures from signer.  The client is a copy of the one
// passed with WithClient, if any.
func ClientForSigner(signer api.Signer, opts ...Option) (*http.Client, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	trans, err := NewTransport(cfg.client.Transport, signer, opts...)
	if err != nil {
		return nil, err
	}

	client := *cfg.client
	client.Transport = trans

	return &client, nil
}

// ClientForPrivateKey returns an http.Client capable of making payments
// using cryptocurrency from the Ethereum account associated with the
// provided secp256k1 private key.
func ClientForPrivateKey(priv *ecdsa.PrivateKey, opts ...Option) (*http.Client, error) {
	signer, err := signer.NewECDSASigner(priv)
	if err != nil {
		return nil, err
	}

	return ClientForSigner(signer, opts...)
}

// ClientForPrivateKeyHex is like ClientForPrivateKey except that the
// private key is parsed from the provided hexadecimal string.
func ClientForPrivateKeyHex(privHex string, opts ...Option) (*http.Client, error) {
	signer, err := signer.NewECDSASignerFromHex(privHex)
	if err != nil {
		return nil, err
	}

	return ClientForSigner(signer, opts...)
}

// ClientForPrivateKeyHexFromEnv is like ClientForPrivateKeyHex except that
// hexadecimal string is read from the environment variable selected by name.
func ClientForPrivateKeyHexFromEnv(name string, opts ...Option) (*http.Client, error) {
	signer, err := signer.NewECDSASignerFromEnv(name)
	if err != nil {
		return nil, err
	}

	return ClientForSigner(signer, opts...)
}

// ClientForKeyStore returns an http.Client that signs payments with acct,
// which must be present in ks and is unlocked with pass for each
// signature.
func ClientForKeyStore(ks *keystore.KeyStore, acct accounts.Account, pass []byte, opts ...Option) (*http.Client, error) {
	signer, err := signer.NewKeyStoreSigner(ks, acct, pass)
	if err != nil {
		return nil, err
	}

	return ClientForSigner(signer, opts...)
}
