package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMineTimeout   = 2 * time.Minute
	DefaultRetries       = 3
	DefaultRetryInterval = 250 * time.Millisecond
)

type config struct {
	signer        api.EVMSigner
	factory       common.Address
	forwarder     common.Address
	cfa           common.Address
	retries       uint64
	retryInterval time.Duration
	timeout       time.Duration
	mineTimeout   time.Duration
	gasPrice      *big.Int
	gasLimit      uint64
	log           *slog.Logger
}

// Option configures a Gateway.
type Option func(*config) error

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		forwarder:     DefaultCFAForwarder,
		retries:       DefaultRetries,
		retryInterval: DefaultRetryInterval,
		timeout:       DefaultTimeout,
		mineTimeout:   DefaultMineTimeout,
		log:           observability.NewNoopLogger(),
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

// WithSigner sets the account that sends the gateway's transactions.
// Read-only gateways don't need one.
func WithSigner(signer api.EVMSigner) Option {
	return func(cfg *config) error {
		if signer == nil {
			return fmt.Errorf("%w: nil signer", ErrInvalidOption)
		}

		cfg.signer = signer

		return nil
	}
}

// WithFactory sets the address of the payment channel factory.
func WithFactory(addr common.Address) Option {
	return func(cfg *config) error {
		cfg.factory = addr

		return nil
	}
}

// WithCFAForwarder overrides DefaultCFAForwarder.
func WithCFAForwarder(addr common.Address) Option {
	return func(cfg *config) error {
		cfg.forwarder = addr

		return nil
	}
}

// WithCFA sets the address of the constant flow agreement contract whose
// FlowUpdated logs WatchFlowUpdates subscribes to.
func WithCFA(addr common.Address) Option {
	return func(cfg *config) error {
		cfg.cfa = addr

		return nil
	}
}

// WithRetries sets how many times a failed read is retried, and the
// initial interval of the exponential backoff between tries.
func WithRetries(retries uint64, interval time.Duration) Option {
	return func(cfg *config) error {
		if interval <= 0 {
			return fmt.Errorf("%w: retry interval must be positive", ErrInvalidOption)
		}

		cfg.retries = retries
		cfg.retryInterval = interval

		return nil
	}
}

// WithTimeout bounds each RPC call.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidOption)
		}

		cfg.timeout = timeout

		return nil
	}
}

// WithMineTimeout bounds how long a write waits for its transaction to
// be mined.
func WithMineTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: mine timeout must be positive", ErrInvalidOption)
		}

		cfg.mineTimeout = timeout

		return nil
	}
}

// WithGasPrice sends legacy transactions at a fixed gas price instead of
// asking the node for fee suggestions.
func WithGasPrice(price *big.Int) Option {
	return func(cfg *config) error {
		if price == nil || price.Sign() <= 0 {
			return fmt.Errorf("%w: gas price must be positive", ErrInvalidOption)
		}

		cfg.gasPrice = new(big.Int).Set(price)

		return nil
	}
}

// WithGasLimit skips gas estimation.
func WithGasLimit(limit uint64) Option {
	return func(cfg *config) error {
		cfg.gasLimit = limit

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
