// Package codec produces the digests that payment signatures are made
// over.  Clients and servers must compute them byte-for-byte identically,
// so every numeric field is a 32-byte big-endian word (the layout of
// Solidity's abi.encodePacked for uint256) and every digest is Keccak-256.
package codec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/selesy/x402-gate/pkg/api"
)

// Channel returns keccak256(channelID ‖ balance ‖ nonce ‖ body).  The
// body is the raw request payload exactly as sent, and is empty when the
// request has no body.
func Channel(channelID, balance *big.Int, nonce uint64, body []byte) common.Hash {
	return crypto.Keccak256Hash(
		word(channelID),
		word(balance),
		word(new(big.Int).SetUint64(nonce)),
		body,
	)
}

// ChannelState is Channel applied to the fields of state.
func ChannelState(state api.ChannelState, body []byte) common.Hash {
	return Channel(state.ChannelID, state.Balance, state.Nonce, body)
}

// OneTime returns keccak256 of the transaction hash's 32 bytes.
func OneTime(tx common.Hash) common.Hash {
	return crypto.Keccak256Hash(tx.Bytes())
}

// Stream returns keccak256 of the sender address's 20 bytes.
func Stream(sender common.Address) common.Hash {
	return crypto.Keccak256Hash(sender.Bytes())
}

func word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}

	return math.U256Bytes(new(big.Int).Set(v))
}
