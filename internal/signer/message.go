package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/selesy/x402-gate/internal/codec"
	"github.com/selesy/x402-gate/pkg/api"
)

// SignDigest signs the EIP-191 personal message hash of digest, which is
// what wallets produce for personal_sign and what the payment channel
// contract recovers on close.  The returned signature's recovery id is
// 27 or 28.
func SignDigest(ctx context.Context, s api.Signer, digest common.Hash, now time.Time) (*api.SignedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignCanceled, err)
	}

	sig, err := s.Sign(accounts.TextHash(digest.Bytes()))
	if err != nil {
		return nil, err
	}

	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	// An external signer may have finished after the caller gave up.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignCanceled, err)
	}

	out := make([]byte, crypto.SignatureLength)
	copy(out, sig)

	if out[crypto.RecoveryIDOffset] < 27 {
		out[crypto.RecoveryIDOffset] += 27
	}

	return &api.SignedRequest{
		Digest:    digest,
		Signature: out,
		Timestamp: now.Unix(),
	}, nil
}

// SignChannel signs the channel digest of state and the raw request body.
func SignChannel(ctx context.Context, s api.Signer, state api.ChannelState, body []byte, now time.Time) (*api.SignedRequest, error) {
	return SignDigest(ctx, s, codec.ChannelState(state, body), now)
}

// SignOneTime signs the digest of a payment transaction's hash.
func SignOneTime(ctx context.Context, s api.Signer, tx common.Hash, now time.Time) (*api.SignedRequest, error) {
	return SignDigest(ctx, s, codec.OneTime(tx), now)
}

// SignStream signs the digest of the streaming sender's address.
func SignStream(ctx context.Context, s api.Signer, sender common.Address, now time.Time) (*api.SignedRequest, error) {
	return SignDigest(ctx, s, codec.Stream(sender), now)
}

// Recover returns the address that produced sig over digest.  The
// recovery id may be encoded either as 0/1 or as 27/28.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)

	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}

	if s[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}
