package api

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignedRequest is produced once per outgoing call and never persisted.
type SignedRequest struct {
	Digest    common.Hash
	Signature []byte
	Timestamp int64
}

// SignatureHex returns the 0x-prefixed signature, whose recovery id is
// encoded as 27 or 28.
func (r SignedRequest) SignatureHex() string {
	return hexutil.Encode(r.Signature)
}

// TimestampString returns the signing time in unix seconds.
func (r SignedRequest) TimestampString() string {
	return strconv.FormatInt(r.Timestamp, 10)
}
