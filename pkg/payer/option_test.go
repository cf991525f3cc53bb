package payer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/pkg/api/apitest"
	"github.com/selesy/x402-gate/pkg/payer"
)

func TestNewOptions(t *testing.T) {
	t.Parallel()

	t.Run("passes - defaults", func(t *testing.T) {
		t.Parallel()

		opts, err := payer.NewOptions()
		require.NoError(t, err)
		assert.Len(t, opts.Nonce(), 32)
		assert.WithinDuration(t, time.Now(), opts.Now(), time.Minute)
		assert.NotNil(t, opts.Log())
	})

	t.Run("passes - overrides", func(t *testing.T) {
		t.Parallel()

		opts, err := payer.NewOptions(
			payer.WithNowFunc(apitest.NowFunc),
			payer.WithNonceFunc(func() []byte { return []byte{1} }),
		)
		require.NoError(t, err)
		assert.Equal(t, apitest.Now, opts.Now())
		assert.Equal(t, []byte{1}, opts.Nonce())
	})

	t.Run("fails - nil funcs are joined", func(t *testing.T) {
		t.Parallel()

		_, err := payer.NewOptions(payer.WithNowFunc(nil), payer.WithNonceFunc(nil))
		require.ErrorContains(t, err, "now function")
		require.ErrorContains(t, err, "nonce function")
	})
}
