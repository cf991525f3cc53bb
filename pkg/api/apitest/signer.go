package apitest

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/pkg/api"
)

const (
	ECDSAPrivateKeyHex      = "6cfb3f917efa513636a6f8103d01426e932806cc7205c4361de4c633452e2b57"
	NotOnCurvePrivateKeyHex = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

	// Address is the Ethereum account controlled by ECDSAPrivateKeyHex.
	Address = "0x7840586eE7C215aE14599655b7c96ce23B7A9662"

	Passphrase = "LetMeIn"
)

// Digest is an arbitrary 32-byte value used to exercise signers.
var Digest = crypto.Keccak256([]byte("x402-gate"))

// TestSigner asserts that signer produces 65-byte recoverable signatures
// over Digest that recover to Address.
func TestSigner(t *testing.T, signer api.Signer) {
	t.Helper()

	sig, err := signer.Sign(Digest)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.LessOrEqual(t, sig[crypto.RecoveryIDOffset], byte(1))

	pub, err := crypto.SigToPub(Digest, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(Address), crypto.PubkeyToAddress(*pub))

	if evm, ok := signer.(api.EVMSigner); ok {
		assert.Equal(t, common.HexToAddress(Address), evm.Address())
	}
}

// PrivateKey returns the key encoded by ECDSAPrivateKeyHex.
func PrivateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	priv, err := crypto.HexToECDSA(ECDSAPrivateKeyHex)
	require.NoError(t, err)

	return priv
}

// Keystore returns a fresh keystore in a temporary directory holding
// PrivateKey, locked with Passphrase.
func Keystore(t *testing.T) (*keystore.KeyStore, accounts.Account) {
	t.Helper()

	path := t.TempDir()
	ks := keystore.NewKeyStore(path, keystore.LightScryptN, keystore.LightScryptP)

	acct, err := ks.ImportECDSA(PrivateKey(t), Passphrase)
	require.NoError(t, err)
	require.NotNil(t, acct)

	return ks, acct
}
