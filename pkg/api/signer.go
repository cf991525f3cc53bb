package api

import "github.com/ethereum/go-ethereum/common"

// A Signer produces a 65-byte recoverable secp256k1 signature [R || S || V]
// of a 32-byte hash, with V in {0, 1}.  Payment digests are wrapped in the
// personal-message prefix before they reach a Signer.
type Signer interface {
	Sign(digestHash []byte) ([]byte, error)
}

// An EVMSigner is a Signer bound to an Ethereum account.  The stream
// scheme and the on-chain gateway need the account's address.
type EVMSigner interface {
	Signer

	Address() common.Address
}
