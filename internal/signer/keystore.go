package signer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/selesy/x402-gate/pkg/api"
)

var _ api.EVMSigner = (*KeyStoreSigner)(nil)

// KeyStoreSigner signs with an account held in an encrypted go-ethereum
// keystore.  The key is decrypted for each signature and never retained.
type KeyStoreSigner struct {
	ks   *keystore.KeyStore
	acct accounts.Account
	pass string
}

// NewKeyStoreSigner resolves acct in ks and proves that pass decrypts it,
// so a wrong passphrase fails here instead of on the first payment.
func NewKeyStoreSigner(ks *keystore.KeyStore, acct accounts.Account, pass []byte) (*KeyStoreSigner, error) {
	if ks == nil {
		return nil, fmt.Errorf("%w: nil keystore", ErrAccountNotFound)
	}

	found, err := ks.Find(acct)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, acct.Address.Hex())
	}

	s := &KeyStoreSigner{
		ks:   ks,
		acct: found,
		pass: string(pass),
	}

	if _, err := s.Sign(crypto.Keccak256(found.Address.Bytes())); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *KeyStoreSigner) Address() common.Address {
	return s.acct.Address
}

func (s *KeyStoreSigner) Sign(digestHash []byte) ([]byte, error) {
	sig, err := s.ks.SignHashWithPassphrase(s.acct, s.pass, digestHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPassphrase, err)
	}

	return sig, nil
}
