package verifier_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api/apitest"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/verifier"
)

func newOneTimeVerifier(t *testing.T, chain verifier.Chain, clk *clock, mod func(*verifier.OneTimeConfig)) *verifier.Verifier {
	t.Helper()

	cfg := verifier.OneTimeConfig{
		Recipient: apitest.Recipient,
		Token:     apitest.Token,
		Amount:    big.NewInt(10_000),
	}

	if mod != nil {
		mod(&cfg)
	}

	v, err := verifier.New(chain,
		verifier.WithOneTime(cfg),
		verifier.WithNowFunc(clk.Now),
	)
	require.NoError(t, err)

	return v
}

func oneTimeRequest(t *testing.T, privHex string, hash common.Hash) verifier.OneTimeRequest {
	t.Helper()

	signed, err := signer.SignOneTime(context.Background(), newSigner(t, privHex), hash, apitest.Now)
	require.NoError(t, err)

	return verifier.OneTimeRequest{
		TxHash:    hash,
		Signature: signed.Signature,
	}
}

func chainWithTransfer(tx *gateway.Transaction) *fakeChain {
	chain := newFakeChain()
	chain.txs[tx.Hash] = tx

	return chain
}

func TestVerifier_VerifyOneTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("passes - redeemed once", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		chain := chainWithTransfer(tx)
		v := newOneTimeVerifier(t, chain, newClock(), nil)
		req := oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash)

		res, err := v.VerifyOneTime(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, sender, res.Sender)
		assert.Equal(t, tx.Hash, res.TxHash)
		assert.Equal(t, tx.BlockTime, res.PaidAt)
		assert.Equal(t, 1, res.Redemptions)

		_, err = v.VerifyOneTime(ctx, req)
		require.ErrorIs(t, err, verifier.ErrTransactionAlreadyConsumed)

		_, txHits, _ := chain.hits()
		assert.Equal(t, 1, txHits)
	})

	t.Run("passes - redeemed within a session", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 20_000)
		clk := newClock()
		v := newOneTimeVerifier(t, chainWithTransfer(tx), clk, func(cfg *verifier.OneTimeConfig) {
			cfg.MaxRedemptions = 3
		})
		req := oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash)

		for i := range 3 {
			res, err := v.VerifyOneTime(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, i+1, res.Redemptions)

			clk.Add(10 * time.Minute)
		}

		_, err := v.VerifyOneTime(ctx, req)
		require.ErrorIs(t, err, verifier.ErrTransactionAlreadyConsumed)
	})

	t.Run("fails - session ended", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		clk := newClock()
		v := newOneTimeVerifier(t, chainWithTransfer(tx), clk, func(cfg *verifier.OneTimeConfig) {
			cfg.MaxRedemptions = 3
		})
		req := oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash)

		_, err := v.VerifyOneTime(ctx, req)
		require.NoError(t, err)

		clk.Add(time.Hour + time.Second)

		_, err = v.VerifyOneTime(ctx, req)
		require.ErrorIs(t, err, verifier.ErrTransactionAlreadyConsumed)
	})

	t.Run("fails - concurrent redemptions", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		v := newOneTimeVerifier(t, chainWithTransfer(tx), newClock(), nil)
		req := oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
			consumed int
		)

		for range 20 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := v.VerifyOneTime(ctx, req)

				mu.Lock()
				defer mu.Unlock()

				switch {
				case err == nil:
					accepted++
				case errors.Is(err, verifier.ErrTransactionAlreadyConsumed):
					consumed++
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, 1, accepted)
		assert.Equal(t, 19, consumed)
	})

	t.Run("fails - transaction not found", func(t *testing.T) {
		t.Parallel()

		v := newOneTimeVerifier(t, newFakeChain(), newClock(), nil)

		_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, common.HexToHash("0x01")))
		require.ErrorIs(t, err, verifier.ErrTransactionNotFound)
	})

	t.Run("fails - chain unavailable", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		chain := chainWithTransfer(tx)
		chain.setErr(gateway.ErrRPCUnavailable)

		v := newOneTimeVerifier(t, chain, newClock(), nil)

		_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash))
		require.ErrorIs(t, err, verifier.ErrRPCUnavailable)
	})

	t.Run("fails - outside the payment window", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		clk := newClock()
		clk.Add(verifier.DefaultOneTimeWindow)

		v := newOneTimeVerifier(t, chainWithTransfer(tx), clk, nil)

		_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash))
		require.ErrorIs(t, err, verifier.ErrInvalidTransaction)
	})

	t.Run("fails - redeemed by another signer", func(t *testing.T) {
		t.Parallel()

		tx := successfulTransfer(sender, 10_000)
		v := newOneTimeVerifier(t, chainWithTransfer(tx), newClock(), func(cfg *verifier.OneTimeConfig) {
			cfg.MaxRedemptions = 2
		})

		_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash))
		require.NoError(t, err)

		_, err = v.VerifyOneTime(ctx, oneTimeRequest(t, otherPrivateKeyHex, tx.Hash))
		require.ErrorIs(t, err, verifier.ErrInvalidSignature)
	})

	t.Run("fails - missing signature", func(t *testing.T) {
		t.Parallel()

		v := newOneTimeVerifier(t, newFakeChain(), newClock(), nil)

		_, err := v.VerifyOneTime(ctx, verifier.OneTimeRequest{TxHash: common.HexToHash("0x01")})
		require.ErrorIs(t, err, verifier.ErrMissingHeaders)
	})

	tests := []struct {
		name   string
		modify func(tx *gateway.Transaction)
	}{
		{
			name: "fails - transaction reverted",
			modify: func(tx *gateway.Transaction) {
				tx.Status = types.ReceiptStatusFailed
			},
		},
		{
			name: "fails - sent by someone else",
			modify: func(tx *gateway.Transaction) {
				tx.From = apitest.Recipient
			},
		},
		{
			name: "fails - not a token call",
			modify: func(tx *gateway.Transaction) {
				tx.To = &apitest.Recipient
			},
		},
		{
			name: "fails - wrong recipient",
			modify: func(tx *gateway.Transaction) {
				tx.Transfers[0].To = apitest.ChannelAddress
			},
		},
		{
			name: "fails - amount too low",
			modify: func(tx *gateway.Transaction) {
				tx.Transfers[0].Value = big.NewInt(9_999)
			},
		},
		{
			name: "fails - no transfer",
			modify: func(tx *gateway.Transaction) {
				tx.Transfers = nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tx := successfulTransfer(sender, 10_000)
			tt.modify(tx)

			v := newOneTimeVerifier(t, chainWithTransfer(tx), newClock(), nil)

			_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, tx.Hash))
			require.ErrorIs(t, err, verifier.ErrInvalidTransaction)
		})
	}

	t.Run("fails - scheme disabled", func(t *testing.T) {
		t.Parallel()

		v := newChannelVerifier(t, newFakeChain(), newClock())

		_, err := v.VerifyOneTime(ctx, oneTimeRequest(t, apitest.ECDSAPrivateKeyHex, common.HexToHash("0x01")))
		require.ErrorIs(t, err, verifier.ErrSchemeDisabled)
	})
}
