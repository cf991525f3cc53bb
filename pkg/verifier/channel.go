package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/codec"
	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/gateway"
)

// ChannelRequest is one signed channel claim.  Body is the raw request
// body exactly as received.
type ChannelRequest struct {
	State     api.ChannelState
	Message   common.Hash
	Signature []byte
	Timestamp int64
	Body      []byte
}

// Claim is an accepted channel state and the sender's signature over it.
// The latest claim is what the recipient closes the channel with.
type Claim struct {
	State     api.ChannelState
	Signature []byte
	Timestamp int64
}

// ChannelResult describes an accepted channel payment.  Next is the
// state the client must sign for its following request.
type ChannelResult struct {
	Sender common.Address
	Amount *big.Int
	Claim  Claim
	Next   api.ChannelState
}

type channelEntry struct {
	mu   sync.Mutex
	info *gateway.ChannelInfo
	last *Claim
	next *api.ChannelState
	// dropped is set once the entry has left the ledger.
	dropped bool
}

// lockChannel returns the ledger entry for id, locked.  An entry that
// was dropped while the caller waited for it is never returned.
func (v *Verifier) lockChannel(id string) *channelEntry {
	for {
		v.channelsMu.Lock()

		entry, ok := v.channels[id]
		if !ok {
			entry = &channelEntry{}
			v.channels[id] = entry
		}

		v.channelsMu.Unlock()

		entry.mu.Lock()

		if !entry.dropped {
			return entry
		}

		entry.mu.Unlock()
	}
}

// dropChannel removes an entry that never accepted a claim.  The caller
// holds entry.mu.
func (v *Verifier) dropChannel(id string, entry *channelEntry) {
	entry.dropped = true

	v.channelsMu.Lock()
	defer v.channelsMu.Unlock()

	if v.channels[id] == entry {
		delete(v.channels, id)
	}
}

// VerifyChannel checks a channel claim and, if it is accepted, records
// it as the channel's latest claim.  Claims on the same channel are
// verified one at a time.
func (v *Verifier) VerifyChannel(ctx context.Context, req ChannelRequest) (res *ChannelResult, err error) {
	start := time.Now()

	defer func() {
		v.observe(api.SchemeChannel, start, err)
	}()

	cfg := v.channel
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemeDisabled, api.SchemeChannel)
	}

	if len(req.Signature) == 0 {
		return nil, fmt.Errorf("%w: signature", ErrMissingHeaders)
	}

	if req.State.Balance == nil || req.State.ChannelID == nil {
		return nil, fmt.Errorf("%w: incomplete channel state", ErrInvalidHeaders)
	}

	if err := v.checkTimestamp(req.Timestamp, cfg.TimestampWindow); err != nil {
		return nil, err
	}

	digest := codec.ChannelState(req.State, req.Body)

	v.log.Debug("Channel digest",
		observability.Channel(req.State.ID()),
		slog.String("hex", digest.Hex()),
	)

	if req.Message != digest {
		return nil, fmt.Errorf("%w: got %s, computed %s", ErrInvalidMessage, req.Message, digest)
	}

	sender, err := signer.Recover(digest, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	v.log.Debug("Recovered channel signer", slog.String("address", sender.Hex()))

	if sender != req.State.Sender {
		return nil, fmt.Errorf("%w: signed by %s, not sender %s", ErrInvalidSignature, sender, req.State.Sender)
	}

	if req.State.Recipient != cfg.Recipient {
		return nil, fmt.Errorf("%w: recipient %s", ErrInvalidChannel, req.State.Recipient)
	}

	id := req.State.ID()
	entry := v.lockChannel(id)

	defer func() {
		if entry.last == nil {
			v.dropChannel(id, entry)
		}

		entry.mu.Unlock()
	}()

	fresh := false

	// The contract is read on first use, and again when a claim names a
	// later expiration because the channel may have been extended.
	if entry.info == nil || req.State.Expiration > entry.info.Expiration {
		addr := req.State.Address
		if entry.info != nil {
			addr = entry.info.Address
		}

		info, err := v.channelInfo(ctx, addr)
		if err != nil {
			return nil, err
		}

		entry.info, fresh = info, true
	}

	if entry.info.Address != req.State.Address {
		return nil, fmt.Errorf("%w: channel %s is at %s", ErrInvalidChannel, id, entry.info.Address)
	}

	if err := matchChannel(cfg, entry.info, req.State); err != nil {
		return nil, err
	}

	if at := max(v.nowFunc().Unix(), req.Timestamp); at >= 0 && uint64(at) >= entry.info.Expiration {
		return nil, fmt.Errorf("%w: at %d", ErrExpired, entry.info.Expiration)
	}

	amount := cfg.Amount
	if amount == nil {
		amount = bigOrZero(entry.info.Price)
	}

	if entry.next == nil {
		if req.State.Nonce != 0 {
			return nil, fmt.Errorf("%w: first claim has nonce %d", ErrNonceGap, req.State.Nonce)
		}
	} else {
		switch want := entry.next.Nonce; {
		case req.State.Nonce < want:
			return nil, fmt.Errorf("%w: %d, expected %d", ErrStaleNonce, req.State.Nonce, want)
		case req.State.Nonce > want:
			return nil, fmt.Errorf("%w: %d, expected %d", ErrNonceGap, req.State.Nonce, want)
		}

		if req.State.Balance.Cmp(entry.next.Balance) < 0 {
			return nil, fmt.Errorf("%w: balance %s, expected at least %s",
				ErrInsufficientBalance, req.State.Balance, entry.next.Balance)
		}
	}

	total := new(big.Int).Add(req.State.Balance, amount)

	if total.Cmp(bigOrZero(entry.info.Balance)) > 0 && !fresh {
		// The sender may have deposited since the channel was first seen.
		info, err := v.channelInfo(ctx, entry.info.Address)
		if err != nil {
			return nil, err
		}

		entry.info = info

		if err := matchChannel(cfg, info, req.State); err != nil {
			return nil, err
		}
	}

	if total.Cmp(bigOrZero(entry.info.Balance)) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds deposit %s", ErrInsufficientBalance, total, bigOrZero(entry.info.Balance))
	}

	claim := Claim{
		State:     req.State.Clone(),
		Signature: append([]byte(nil), req.Signature...),
		Timestamp: req.Timestamp,
	}
	next := req.State.Next(amount)

	entry.last = &claim
	entry.next = &next

	v.log.Info("x402 channel payment verified",
		observability.Channel(req.State.ID()),
		slog.String("sender", sender.Hex()),
		slog.Uint64("nonce", req.State.Nonce),
		slog.String("balance", total.String()),
	)

	return &ChannelResult{
		Sender: sender,
		Amount: new(big.Int).Set(amount),
		Claim:  claim,
		Next:   next,
	}, nil
}

func (v *Verifier) channelInfo(ctx context.Context, addr common.Address) (*gateway.ChannelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, v.rpcTimeout)
	defer cancel()

	info, err := v.chain.Channel(ctx, addr)
	if err != nil {
		return nil, v.chainError(err, ErrInvalidChannel)
	}

	return info, nil
}

func matchChannel(cfg *ChannelConfig, info *gateway.ChannelInfo, state api.ChannelState) error {
	switch {
	case bigOrZero(info.ChannelID).Cmp(state.ChannelID) != 0:
		return fmt.Errorf("%w: contract has channel id %s", ErrInvalidChannel, info.ChannelID)
	case info.Sender != state.Sender:
		return fmt.Errorf("%w: contract sender is %s", ErrInvalidChannel, info.Sender)
	case info.Recipient != state.Recipient:
		return fmt.Errorf("%w: contract recipient is %s", ErrInvalidChannel, info.Recipient)
	case info.Expiration != state.Expiration:
		return fmt.Errorf("%w: contract expires at %d", ErrInvalidChannel, info.Expiration)
	case cfg.Token != (common.Address{}) && info.Token != cfg.Token:
		return fmt.Errorf("%w: channel token is %s", ErrInvalidChannel, info.Token)
	default:
		return nil
	}
}

// LastClaim returns the latest accepted claim on the channel with the
// given id.
func (v *Verifier) LastClaim(id string) (Claim, bool) {
	v.channelsMu.Lock()
	entry, ok := v.channels[id]
	v.channelsMu.Unlock()

	if !ok {
		return Claim{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.last == nil {
		return Claim{}, false
	}

	return *entry.last, true
}

// Claims returns the latest accepted claim of every channel in
// ascending channel id order.
func (v *Verifier) Claims() []Claim {
	v.channelsMu.Lock()
	ids := make([]string, 0, len(v.channels))

	for id := range v.channels {
		ids = append(ids, id)
	}
	v.channelsMu.Unlock()

	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}

		return ids[i] < ids[j]
	})

	var claims []Claim

	for _, id := range ids {
		if claim, ok := v.LastClaim(id); ok {
			claims = append(claims, claim)
		}
	}

	return claims
}
