package verifier_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api/apitest"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/metrics"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// countingRecorder counts events by name.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) IncCounter(name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts == nil {
		r.counts = map[string]int{}
	}

	r.counts[name]++
}

func (r *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

func (r *countingRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counts[name]
}

func newStreamVerifier(t *testing.T, chain verifier.Chain, clk *clock, opts ...verifier.Option) *verifier.Verifier {
	t.Helper()

	opts = append([]verifier.Option{
		verifier.WithStream(verifier.StreamConfig{
			Recipient: apitest.Recipient,
			Token:     apitest.Token,
			FlowRate:  big.NewInt(1_000),
		}),
		verifier.WithNowFunc(clk.Now),
	}, opts...)

	v, err := verifier.New(chain, opts...)
	require.NoError(t, err)

	return v
}

func streamRequest(t *testing.T, privHex string, from common.Address, resource string) verifier.StreamRequest {
	t.Helper()

	signed, err := signer.SignStream(context.Background(), newSigner(t, privHex), from, apitest.Now)
	require.NoError(t, err)

	return verifier.StreamRequest{
		Sender:    from,
		Signature: signed.Signature,
		Resource:  resource,
	}
}

func TestVerifier_VerifyStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("passes - cached", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		rec := &countingRecorder{}
		v := newStreamVerifier(t, chain, newClock(), verifier.WithRecorder(rec))
		req := streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather")

		res, err := v.VerifyStream(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, sender, res.Sender)
		assert.Equal(t, big.NewInt(1_000), res.FlowRate)
		assert.False(t, res.Cached)

		res, err = v.VerifyStream(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Cached)

		_, _, streamHits := chain.hits()
		assert.Equal(t, 1, streamHits)
		assert.Equal(t, 1, rec.count(metrics.EventCacheHit))
		assert.Equal(t, 1, rec.count(metrics.EventCacheMiss))
		assert.Equal(t, 2, rec.count(metrics.EventVerified))
	})

	t.Run("passes - cache expires", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		clk := newClock()
		v := newStreamVerifier(t, chain, clk)
		req := streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather")

		_, err := v.VerifyStream(ctx, req)
		require.NoError(t, err)

		clk.Add(verifier.DefaultStreamCacheTime)

		res, err := v.VerifyStream(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Cached)

		_, _, streamHits := chain.hits()
		assert.Equal(t, 2, streamHits)
	})

	t.Run("passes - cached per resource", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		v := newStreamVerifier(t, chain, newClock())

		for _, resource := range []string{"/weather", "/stocks", "/weather"} {
			_, err := v.VerifyStream(ctx, streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, resource))
			require.NoError(t, err)
		}

		_, _, streamHits := chain.hits()
		assert.Equal(t, 2, streamHits)
	})

	t.Run("passes - concurrent lookups are shared", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		chain.gate = make(chan struct{})

		rec := &countingRecorder{}
		v := newStreamVerifier(t, chain, newClock(), verifier.WithRecorder(rec))
		req := streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather")

		const callers = 10

		var (
			wg   sync.WaitGroup
			errs = make(chan error, callers)
		)

		for range callers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := v.VerifyStream(ctx, req)
				errs <- err
			}()
		}

		require.Eventually(t, func() bool {
			return rec.count(metrics.EventCacheMiss) == callers
		}, time.Second, time.Millisecond)

		time.Sleep(20 * time.Millisecond)
		close(chain.gate)

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		_, _, streamHits := chain.hits()
		assert.Equal(t, 1, streamHits)
	})

	t.Run("passes - lookup racing an invalidation is not cached", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		chain.gate = make(chan struct{})

		v := newStreamVerifier(t, chain, newClock())
		req := streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather")

		done := make(chan error, 1)

		go func() {
			_, err := v.VerifyStream(ctx, req)
			done <- err
		}()

		require.Eventually(t, func() bool {
			_, _, streamHits := chain.hits()

			return streamHits == 1
		}, time.Second, time.Millisecond)

		assert.Zero(t, v.InvalidateStream(sender))
		close(chain.gate)
		require.NoError(t, <-done)

		res, err := v.VerifyStream(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Cached)

		_, _, streamHits := chain.hits()
		assert.Equal(t, 2, streamHits)
	})

	t.Run("fails - flow rate too low", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		chain.stream.FlowRate = big.NewInt(999)

		v := newStreamVerifier(t, chain, newClock())

		_, err := v.VerifyStream(ctx, streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather"))
		require.ErrorIs(t, err, verifier.ErrStreamNotActive)
	})

	t.Run("fails - no stream", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		chain.stream = nil

		v := newStreamVerifier(t, chain, newClock())

		_, err := v.VerifyStream(ctx, streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather"))
		require.ErrorIs(t, err, verifier.ErrStreamNotActive)
	})

	t.Run("fails - chain unavailable", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		chain.setErr(gateway.ErrRPCUnavailable)

		rec := &countingRecorder{}
		v := newStreamVerifier(t, chain, newClock(), verifier.WithRecorder(rec))

		_, err := v.VerifyStream(ctx, streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather"))
		require.ErrorIs(t, err, verifier.ErrRPCUnavailable)
		assert.Equal(t, 1, rec.count(metrics.EventRPCError))
	})

	t.Run("fails - signed by someone else", func(t *testing.T) {
		t.Parallel()

		v := newStreamVerifier(t, newFakeChain(), newClock())

		_, err := v.VerifyStream(ctx, streamRequest(t, otherPrivateKeyHex, sender, "/weather"))
		require.ErrorIs(t, err, verifier.ErrInvalidSignature)
	})

	t.Run("fails - missing sender", func(t *testing.T) {
		t.Parallel()

		v := newStreamVerifier(t, newFakeChain(), newClock())

		_, err := v.VerifyStream(ctx, verifier.StreamRequest{Signature: []byte{1}})
		require.ErrorIs(t, err, verifier.ErrMissingHeaders)
	})

	t.Run("fails - scheme disabled", func(t *testing.T) {
		t.Parallel()

		v := newChannelVerifier(t, newFakeChain(), newClock())

		_, err := v.VerifyStream(ctx, streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather"))
		require.ErrorIs(t, err, verifier.ErrSchemeDisabled)
	})
}

func TestVerifier_InvalidateStream(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	v := newStreamVerifier(t, chain, newClock())

	for _, resource := range []string{"/weather", "/stocks"} {
		_, err := v.VerifyStream(context.Background(), streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, resource))
		require.NoError(t, err)
	}

	assert.Equal(t, 0, v.InvalidateStream(apitest.Recipient))
	assert.Equal(t, 2, v.InvalidateStream(sender))
	assert.Equal(t, 0, v.InvalidateStream(sender))

	_, err := v.VerifyStream(context.Background(), streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather"))
	require.NoError(t, err)

	_, _, streamHits := chain.hits()
	assert.Equal(t, 3, streamHits)
}

func TestVerifier_WatchStreams(t *testing.T) {
	t.Parallel()

	t.Run("passes - updates invalidate the cache", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		v := newStreamVerifier(t, chain, newClock())
		req := streamRequest(t, apitest.ECDSAPrivateKeyHex, sender, "/weather")

		_, err := v.VerifyStream(context.Background(), req)
		require.NoError(t, err)

		w := &fakeWatcher{
			sinks: make(chan chan<- *gateway.FlowUpdate, 1),
			err:   make(chan error, 1),
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		go func() {
			done <- v.WatchStreams(ctx, w)
		}()

		sink := <-w.sinks
		sink <- &gateway.FlowUpdate{
			Token:    apitest.Token,
			Sender:   sender,
			Receiver: apitest.Recipient,
			FlowRate: big.NewInt(0),
		}

		require.Eventually(t, func() bool {
			res, err := v.VerifyStream(context.Background(), req)

			return err == nil && !res.Cached
		}, time.Second, 10*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("fails - subscription error", func(t *testing.T) {
		t.Parallel()

		v := newStreamVerifier(t, newFakeChain(), newClock())

		w := &fakeWatcher{
			sinks: make(chan chan<- *gateway.FlowUpdate, 1),
			err:   make(chan error, 1),
		}

		errDropped := errors.New("connection dropped")
		w.err <- errDropped

		err := v.WatchStreams(context.Background(), w)
		require.ErrorIs(t, err, errDropped)
	})

	t.Run("fails - scheme disabled", func(t *testing.T) {
		t.Parallel()

		v := newChannelVerifier(t, newFakeChain(), newClock())

		err := v.WatchStreams(context.Background(), &fakeWatcher{})
		require.ErrorIs(t, err, verifier.ErrSchemeDisabled)
	})
}
