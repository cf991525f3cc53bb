package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/codec"
	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/metrics"
)

// StreamRequest is a signed claim to be the sender of a token stream.
// Resource scopes the verification cache.
type StreamRequest struct {
	Sender    common.Address
	Signature []byte
	Resource  string
}

// StreamResult describes an accepted stream payment.
type StreamResult struct {
	Sender   common.Address
	FlowRate *big.Int
	Cached   bool
}

type streamEntry struct {
	stream    *gateway.Stream
	expiresAt time.Time
}

func streamKey(sender common.Address, resource string) string {
	return sender.Hex() + " " + resource
}

// VerifyStream checks that the signer streams at least the configured
// flow rate to the recipient.  Verified streams are trusted for
// CacheTime, and concurrent lookups of the same stream share one chain
// read.
func (v *Verifier) VerifyStream(ctx context.Context, req StreamRequest) (res *StreamResult, err error) {
	start := time.Now()

	defer func() {
		v.observe(api.SchemeStream, start, err)
	}()

	cfg := v.stream
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemeDisabled, api.SchemeStream)
	}

	if len(req.Signature) == 0 || req.Sender == (common.Address{}) {
		return nil, fmt.Errorf("%w: sender and signature are required", ErrMissingHeaders)
	}

	recovered, err := signer.Recover(codec.Stream(req.Sender), req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	if recovered != req.Sender {
		return nil, fmt.Errorf("%w: signed by %s, not sender %s", ErrInvalidSignature, recovered, req.Sender)
	}

	key := streamKey(req.Sender, req.Resource)
	labels := map[string]string{metrics.LabelScheme: string(api.SchemeStream)}

	if entry, ok := v.streams.Get(key); ok && v.nowFunc().Before(entry.expiresAt) {
		v.recorder.IncCounter(metrics.EventCacheHit, labels)
		v.log.Debug("Stream cache hit", slog.String("sender", req.Sender.Hex()))

		return &StreamResult{
			Sender:   req.Sender,
			FlowRate: new(big.Int).Set(entry.stream.FlowRate),
			Cached:   true,
		}, nil
	}

	v.recorder.IncCounter(metrics.EventCacheMiss, labels)
	v.log.Debug("Stream cache miss", slog.String("sender", req.Sender.Hex()))

	val, err, _ := v.flight.Do(key, func() (any, error) {
		// Callers share the lookup, so one caller's cancellation must
		// not fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.rpcTimeout)
		defer cancel()

		gen := v.streamGeneration()

		stream, err := v.chain.GetStream(ctx, cfg.Token, req.Sender, cfg.Recipient)
		if err != nil {
			return nil, v.chainError(err, ErrStreamNotActive)
		}

		if stream == nil || stream.FlowRate == nil {
			return nil, fmt.Errorf("%w: no stream from %s", ErrStreamNotActive, req.Sender)
		}

		if stream.FlowRate.Cmp(cfg.FlowRate) < 0 {
			return nil, fmt.Errorf("%w: flow rate %s is below %s", ErrStreamNotActive, stream.FlowRate, cfg.FlowRate)
		}

		v.cacheStream(key, gen, &streamEntry{
			stream:    stream,
			expiresAt: v.nowFunc().Add(cfg.CacheTime),
		})

		return stream, nil
	})
	if err != nil {
		return nil, err
	}

	stream, _ := val.(*gateway.Stream)

	v.log.Info("x402 stream payment verified",
		slog.String("sender", req.Sender.Hex()),
		slog.String("flow_rate", stream.FlowRate.String()),
	)

	return &StreamResult{
		Sender:   req.Sender,
		FlowRate: new(big.Int).Set(stream.FlowRate),
	}, nil
}

func (v *Verifier) streamGeneration() uint64 {
	v.streamsMu.Lock()
	defer v.streamsMu.Unlock()

	return v.streamGen
}

// cacheStream stores entry unless a stream was invalidated since the
// lookup that produced it started.
func (v *Verifier) cacheStream(key string, gen uint64, entry *streamEntry) bool {
	v.streamsMu.Lock()
	defer v.streamsMu.Unlock()

	if v.streamGen != gen {
		v.log.Debug("Stream invalidated during lookup, not cached", slog.String("key", key))

		return false
	}

	v.streams.Add(key, entry)

	return true
}

// InvalidateStream drops every cached verification of sender's stream
// and returns how many were dropped.  Lookups in flight when it is
// called are not cached.
func (v *Verifier) InvalidateStream(sender common.Address) int {
	v.streamsMu.Lock()
	defer v.streamsMu.Unlock()

	v.streamGen++

	prefix := sender.Hex() + " "
	n := 0

	for _, key := range v.streams.Keys() {
		if strings.HasPrefix(key, prefix) && v.streams.Remove(key) {
			n++
		}
	}

	return n
}

// WatchStreams invalidates cached streams whose flow changes on chain.
// It blocks until ctx is done or the subscription fails.
func (v *Verifier) WatchStreams(ctx context.Context, w FlowWatcher) error {
	cfg := v.stream
	if cfg == nil {
		return fmt.Errorf("%w: %s", ErrSchemeDisabled, api.SchemeStream)
	}

	sink := make(chan *gateway.FlowUpdate)

	sub, err := w.WatchFlowUpdates(ctx, cfg.Token, cfg.Recipient, sink)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	v.log.Info("Watching stream updates",
		slog.String("token", cfg.Token.Hex()),
		slog.String("recipient", cfg.Recipient.Hex()),
	)

	for {
		select {
		case update := <-sink:
			if n := v.InvalidateStream(update.Sender); n > 0 {
				v.log.Debug("Stream invalidated",
					slog.String("sender", update.Sender.Hex()),
					slog.String("flow_rate", update.FlowRate.String()),
					slog.Int("entries", n),
				)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
