package middleware

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/metrics"
)

// DefaultMaxBodySize bounds the request body read before verification.
const DefaultMaxBodySize = 1 << 20

// HeaderRequestID correlates a request with its log lines.
const HeaderRequestID = "X-Request-Id"

type config struct {
	requirements []api.PaymentRequirement
	log          *slog.Logger
	recorder     metrics.Recorder
	version      int
	maxBodySize  int64
}

// Option configures the middleware.
type Option func(*config) error

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		log:         observability.NewNoopLogger(),
		recorder:    metrics.NoopRecorder{},
		version:     api.X402Version,
		maxBodySize: DefaultMaxBodySize,
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

// WithRequirements sets the "accepts" list of 402 responses.  A
// requirement without a Resource is issued for the request's path.
func WithRequirements(reqs ...api.PaymentRequirement) Option {
	return func(cfg *config) error {
		var errs error

		for i, req := range reqs {
			if !req.Scheme.Valid() {
				errs = errors.Join(errs, fmt.Errorf("%w: requirement %d: unknown scheme %q", ErrInvalidOption, i, req.Scheme))

				continue
			}

			if _, err := req.AmountValue(); err != nil {
				errs = errors.Join(errs, fmt.Errorf("%w: requirement %d: %w", ErrInvalidOption, i, err))
			}
		}

		cfg.requirements = append(cfg.requirements, reqs...)

		return errs
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

// WithRecorder records 402 responses sent to clients that did not pay.
func WithRecorder(rec metrics.Recorder) Option {
	return func(cfg *config) error {
		if rec == nil {
			return fmt.Errorf("%w: nil recorder", ErrInvalidOption)
		}

		cfg.recorder = rec

		return nil
	}
}

// WithX402Version sets the protocol version written into 402 responses.
func WithX402Version(version int) Option {
	return func(cfg *config) error {
		if version < 1 {
			return fmt.Errorf("%w: x402 version %d", ErrInvalidOption, version)
		}

		cfg.version = version

		return nil
	}
}

// WithMaxBodySize bounds the request body.  Larger bodies are refused
// with 413 Request Entity Too Large.
func WithMaxBodySize(n int64) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max body size %d", ErrInvalidOption, n)
		}

		cfg.maxBodySize = n

		return nil
	}
}
