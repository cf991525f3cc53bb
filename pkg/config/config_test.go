package config_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/golden"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/config"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/verifier"
)

const minimal = `
upstream: http://localhost:8080
rpc_url: http://localhost:8545
network: base-sepolia
recipient: "0x60ac86571E55F9735F00cE9e28361d203977B260"
token:
  address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
  decimals: 6
channel:
  price: "0.001"
`

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("testdata/gate.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":9402", cfg.Listen)
	assert.Equal(t, "https://sepolia.base.org", cfg.RPCURL)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, 1, cfg.X402Version)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, uint64(2), cfg.RPC.Retries)
	require.NotNil(t, cfg.OneTime)
	assert.Equal(t, 24*time.Hour, cfg.OneTime.Window)
	assert.Equal(t, 3, cfg.OneTime.MaxRedemptions)
	require.NotNil(t, cfg.Stream)
	assert.Equal(t, 10*time.Minute, cfg.Stream.CacheTime)
}

func TestLoad_env(t *testing.T) {
	t.Run("passes - file named by environment", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "testdata/gate.yaml")
		t.Setenv("X402_GATE_TEST_RPC_URL", "http://rpc.test:8545")

		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "http://rpc.test:8545", cfg.RPCURL)
	})

	t.Run("fails - no file", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "")

		_, err := config.Load("")
		require.ErrorIs(t, err, config.ErrNoConfig)
	})
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("passes - defaults", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Parse(strings.NewReader(minimal))
		require.NoError(t, err)

		assert.Equal(t, config.DefaultListen, cfg.Listen)
		assert.Equal(t, slog.LevelInfo, cfg.Level())
		assert.Nil(t, cfg.OneTime)
		assert.Nil(t, cfg.Stream)
	})

	t.Run("fails - missing environment variable", func(t *testing.T) {
		t.Parallel()

		_, err := config.Parse(strings.NewReader(minimal + "listen: ${X402_GATE_TEST_UNSET}\n"))
		require.ErrorIs(t, err, config.ErrMissingEnv)
		assert.Contains(t, err.Error(), "X402_GATE_TEST_UNSET")
	})

	t.Run("fails - unknown field", func(t *testing.T) {
		t.Parallel()

		_, err := config.Parse(strings.NewReader(minimal + "colour: blue\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "colour")
	})

	t.Run("fails - invalid fields", func(t *testing.T) {
		t.Parallel()

		doc := strings.NewReplacer(
			"0x60ac86571E55F9735F00cE9e28361d203977B260", "alice",
			"http://localhost:8545", "not a url",
		).Replace(minimal) + "log_level: loud\n"

		_, err := config.Parse(strings.NewReader(doc))
		require.ErrorIs(t, err, config.ErrInvalidConfig)

		for _, field := range []string{"Config.Recipient", "Config.RPCURL", "Config.LogLevel"} {
			assert.Contains(t, err.Error(), field)
		}
	})

	t.Run("fails - no scheme", func(t *testing.T) {
		t.Parallel()

		doc := strings.Replace(minimal, "channel:\n  price: \"0.001\"\n", "", 1)

		_, err := config.Parse(strings.NewReader(doc))
		require.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "no payment scheme")
	})
}

func TestBaseUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     *big.Int
	}{
		{"passes - whole tokens", "2", 6, big.NewInt(2_000_000)},
		{"passes - fraction", "0.001", 6, big.NewInt(1_000)},
		{"passes - smallest unit", "0.000001", 6, big.NewInt(1)},
		{"passes - 18 decimals", "1.5", 18, new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))},
		{"fails - too precise", "0.0000001", 6, nil},
		{"fails - zero", "0", 6, nil},
		{"fails - negative", "-1", 6, nil},
		{"fails - not a number", "one", 6, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := config.BaseUnits(tt.amount, tt.decimals)
			if tt.want == nil {
				require.ErrorIs(t, err, config.ErrInvalidConfig)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, 0, tt.want.Cmp(got), "got %s", got)
		})
	}
}

func TestConfig_Requirements(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("testdata/gate.yaml")
	require.NoError(t, err)

	reqs, err := cfg.Requirements()
	require.NoError(t, err)

	data, err := json.MarshalIndent(reqs, "", "  ")
	require.NoError(t, err)

	golden.Assert(t, string(data), "requirements.golden")
}

// nullChain is never consulted.
type nullChain struct{}

func (nullChain) Channel(context.Context, common.Address) (*gateway.ChannelInfo, error) {
	return nil, gateway.ErrNotFound
}

func (nullChain) GetTransaction(context.Context, common.Hash) (*gateway.Transaction, error) {
	return nil, gateway.ErrNotFound
}

func (nullChain) GetStream(context.Context, common.Address, common.Address, common.Address) (*gateway.Stream, error) {
	return nil, nil
}

func TestConfig_VerifierOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("testdata/gate.yaml")
	require.NoError(t, err)

	opts, err := cfg.VerifierOptions()
	require.NoError(t, err)

	v, err := verifier.New(nullChain{}, opts...)
	require.NoError(t, err)
	assert.Equal(t, []api.Scheme{api.SchemeChannel, api.SchemeOneTime, api.SchemeStream}, v.Schemes())
}

func TestConfig_GatewayOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("testdata/gate.yaml")
	require.NoError(t, err)

	assert.Len(t, cfg.GatewayOptions(), 3)

	cfg.Stream = nil
	assert.Len(t, cfg.GatewayOptions(), 2)
}
