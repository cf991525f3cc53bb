// Package verifier checks x402 payment proofs against chain state.
//
// A Verifier is configured with the schemes it accepts.  Channel claims
// are checked against a per-channel ledger whose lock serializes claims
// on the same channel, one-time payments against a bounded redemption
// cache, and streams against a bounded cache of recent chain lookups.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/metrics"
)

// Chain is the on-chain state a Verifier reads.  *gateway.Gateway
// implements it.
type Chain interface {
	Channel(ctx context.Context, addr common.Address) (*gateway.ChannelInfo, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*gateway.Transaction, error)
	GetStream(ctx context.Context, token, sender, receiver common.Address) (*gateway.Stream, error)
}

// FlowWatcher delivers stream changes.  *gateway.Gateway implements it.
type FlowWatcher interface {
	WatchFlowUpdates(ctx context.Context, token, receiver common.Address, sink chan<- *gateway.FlowUpdate) (event.Subscription, error)
}

var _ Chain = (*gateway.Gateway)(nil)

var _ FlowWatcher = (*gateway.Gateway)(nil)

// Verifier is safe for concurrent use.
type Verifier struct {
	config

	chain Chain

	channelsMu sync.Mutex
	channels   map[string]*channelEntry

	redeemMu    sync.Mutex
	redemptions *lru.Cache[common.Hash, *redemption]

	// streamsMu orders cache fills against invalidations.  streamGen
	// counts invalidations so a lookup that raced one is not cached.
	streamsMu sync.Mutex
	streamGen uint64
	streams   *lru.Cache[string, *streamEntry]
	flight    singleflight.Group
}

// New returns a Verifier reading chain state from chain.  At least one
// scheme must be enabled.
func New(chain Chain, opts ...Option) (*Verifier, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	if chain == nil {
		return nil, fmt.Errorf("%w: nil chain", ErrInvalidOption)
	}

	if cfg.channel == nil && cfg.oneTime == nil && cfg.stream == nil {
		return nil, fmt.Errorf("%w: no payment scheme enabled", ErrInvalidOption)
	}

	redemptions, err := lru.New[common.Hash, *redemption](cfg.cacheSize)
	if err != nil {
		return nil, err
	}

	streams, err := lru.New[string, *streamEntry](cfg.cacheSize)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		config:      *cfg,
		chain:       chain,
		channels:    map[string]*channelEntry{},
		redemptions: redemptions,
		streams:     streams,
	}, nil
}

// Schemes returns the enabled schemes.
func (v *Verifier) Schemes() []api.Scheme {
	var schemes []api.Scheme

	if v.channel != nil {
		schemes = append(schemes, api.SchemeChannel)
	}

	if v.oneTime != nil {
		schemes = append(schemes, api.SchemeOneTime)
	}

	if v.stream != nil {
		schemes = append(schemes, api.SchemeStream)
	}

	return schemes
}

// Now returns the verifier's clock reading.
func (v *Verifier) Now() time.Time {
	return v.nowFunc()
}

func (v *Verifier) checkTimestamp(ts int64, window time.Duration) error {
	skew := v.nowFunc().Unix() - ts
	if skew < 0 {
		skew = -skew
	}

	if skew > int64(window/time.Second) {
		return fmt.Errorf("%w: %d is %ds from now", ErrTimestamp, ts, skew)
	}

	return nil
}

// chainError classifies an error returned by Chain.  Lookups that found
// nothing, or found a contract answering in the wrong shape, become
// notFound.  Everything else is ErrRPCUnavailable.
func (v *Verifier) chainError(err error, notFound error) error {
	if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, gateway.ErrInvalidContract) {
		return fmt.Errorf("%w: %w", notFound, err)
	}

	return fmt.Errorf("%w: %w", ErrRPCUnavailable, err)
}

func (v *Verifier) observe(scheme api.Scheme, start time.Time, err error) {
	labels := map[string]string{metrics.LabelScheme: string(scheme)}

	v.recorder.ObserveLatency(metrics.OperationVerify, time.Since(start), labels)

	switch {
	case err == nil:
		v.recorder.IncCounter(metrics.EventVerified, labels)
	case Retryable(err):
		v.recorder.IncCounter(metrics.EventRPCError, labels)
		v.log.Error("Payment verification unavailable",
			observability.Scheme(scheme),
			slog.String("error", err.Error()),
		)
	default:
		v.recorder.IncCounter(metrics.EventRejected, labels)
		v.log.Warn("Payment rejected",
			observability.Scheme(scheme),
			slog.String("code", Code(err)),
			slog.String("error", err.Error()),
		)
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}
