package verifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/metrics"
)

const (
	DefaultTimestampWindow = 300 * time.Second
	DefaultOneTimeWindow   = 48 * time.Hour
	DefaultSessionTTL      = time.Hour
	DefaultMaxRedemptions  = 1
	DefaultStreamCacheTime = 900 * time.Second
	DefaultRPCTimeout      = 10 * time.Second
	DefaultCacheSize       = 10_000
)

// ChannelConfig enables payment channel verification.
type ChannelConfig struct {
	Recipient common.Address
	// Token, when set, must be the channel's token.
	Token common.Address
	// Amount is charged per request.  When nil, the channel's on-chain
	// price is charged.
	Amount *big.Int
	// TimestampWindow bounds the age of a signed request.
	TimestampWindow time.Duration
}

// OneTimeConfig enables one-time transaction verification.
type OneTimeConfig struct {
	Recipient common.Address
	Token     common.Address
	Amount    *big.Int
	// Window bounds the age of the payment transaction's block.
	Window time.Duration
	// SessionTTL bounds how long after its first redemption a payment
	// may be redeemed again.
	SessionTTL     time.Duration
	MaxRedemptions int
}

// StreamConfig enables token stream verification.
type StreamConfig struct {
	Recipient common.Address
	Token     common.Address
	// FlowRate is the minimum accepted flow, in token base units per
	// second.
	FlowRate *big.Int
	// CacheTime is how long a verified stream is trusted without asking
	// the chain again.
	CacheTime time.Duration
}

type config struct {
	channel    *ChannelConfig
	oneTime    *OneTimeConfig
	stream     *StreamConfig
	log        *slog.Logger
	recorder   metrics.Recorder
	nowFunc    api.NowFunc
	rpcTimeout time.Duration
	cacheSize  int
}

// Option configures a Verifier.
type Option func(*config) error

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		log:        observability.NewNoopLogger(),
		recorder:   metrics.NoopRecorder{},
		nowFunc:    time.Now,
		rpcTimeout: DefaultRPCTimeout,
		cacheSize:  DefaultCacheSize,
	}

	var errs error

	for _, opt := range opts {
		errs = errors.Join(errs, opt(cfg))
	}

	if errs != nil {
		return nil, errs
	}

	return cfg, nil
}

func WithChannel(c ChannelConfig) Option {
	return func(cfg *config) error {
		if c.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: channel recipient is required", ErrInvalidOption)
		}

		if c.Amount != nil && c.Amount.Sign() < 0 {
			return fmt.Errorf("%w: channel amount is negative", ErrInvalidOption)
		}

		if c.TimestampWindow <= 0 {
			c.TimestampWindow = DefaultTimestampWindow
		}

		cfg.channel = &c

		return nil
	}
}

func WithOneTime(c OneTimeConfig) Option {
	return func(cfg *config) error {
		var errs error

		if c.Recipient == (common.Address{}) {
			errs = errors.Join(errs, fmt.Errorf("%w: one-time recipient is required", ErrInvalidOption))
		}

		if c.Token == (common.Address{}) {
			errs = errors.Join(errs, fmt.Errorf("%w: one-time token is required", ErrInvalidOption))
		}

		if c.Amount == nil || c.Amount.Sign() <= 0 {
			errs = errors.Join(errs, fmt.Errorf("%w: one-time amount must be positive", ErrInvalidOption))
		}

		if errs != nil {
			return errs
		}

		if c.Window <= 0 {
			c.Window = DefaultOneTimeWindow
		}

		if c.SessionTTL <= 0 {
			c.SessionTTL = DefaultSessionTTL
		}

		if c.MaxRedemptions <= 0 {
			c.MaxRedemptions = DefaultMaxRedemptions
		}

		cfg.oneTime = &c

		return nil
	}
}

func WithStream(c StreamConfig) Option {
	return func(cfg *config) error {
		var errs error

		if c.Recipient == (common.Address{}) {
			errs = errors.Join(errs, fmt.Errorf("%w: stream recipient is required", ErrInvalidOption))
		}

		if c.Token == (common.Address{}) {
			errs = errors.Join(errs, fmt.Errorf("%w: stream token is required", ErrInvalidOption))
		}

		if c.FlowRate == nil || c.FlowRate.Sign() <= 0 {
			errs = errors.Join(errs, fmt.Errorf("%w: stream flow rate must be positive", ErrInvalidOption))
		}

		if errs != nil {
			return errs
		}

		if c.CacheTime <= 0 {
			c.CacheTime = DefaultStreamCacheTime
		}

		cfg.stream = &c

		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(cfg *config) error {
		if log == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}

		cfg.log = log

		return nil
	}
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(cfg *config) error {
		if rec == nil {
			return fmt.Errorf("%w: nil recorder", ErrInvalidOption)
		}

		cfg.recorder = rec

		return nil
	}
}

func WithNowFunc(nowFunc api.NowFunc) Option {
	return func(cfg *config) error {
		if nowFunc == nil {
			return fmt.Errorf("%w: nil now function", ErrInvalidOption)
		}

		cfg.nowFunc = nowFunc

		return nil
	}
}

// WithRPCTimeout bounds every chain lookup made while verifying.
func WithRPCTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: rpc timeout must be positive", ErrInvalidOption)
		}

		cfg.rpcTimeout = timeout

		return nil
	}
}

// WithCacheSize bounds the one-time redemption and stream caches.
func WithCacheSize(size int) Option {
	return func(cfg *config) error {
		if size <= 0 {
			return fmt.Errorf("%w: cache size must be positive", ErrInvalidOption)
		}

		cfg.cacheSize = size

		return nil
	}
}
