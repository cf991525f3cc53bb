package payer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
)

// Options are the settings shared by every api.Payer.
type Options struct {
	nonceFunc api.NonceFunc
	nowFunc   api.NowFunc
	log       *slog.Logger
}

func NewOptions(opts ...Option) (*Options, error) {
	var errs error

	options := &Options{
		nonceFunc: api.DefaultNonce,
		nowFunc:   time.Now,
		log:       observability.NewNoopLogger(),
	}

	for _, opt := range opts {
		errs = errors.Join(errs, opt(options))
	}

	if errs != nil {
		return nil, errs
	}

	return options, nil
}

// Nonce returns 32 bytes of fresh randomness for payloads that need it.
func (o *Options) Nonce() []byte {
	return o.nonceFunc()
}

// Now returns the time used to stamp signed requests.
func (o *Options) Now() time.Time {
	return o.nowFunc()
}

func (o *Options) Log() *slog.Logger {
	return o.log
}

type Option func(*Options) error

func WithNonceFunc(nonceFunc api.NonceFunc) Option {
	return func(o *Options) error {
		if nonceFunc == nil {
			return errors.New("nonce function must not be nil")
		}

		o.nonceFunc = nonceFunc

		return nil
	}
}

func WithNowFunc(nowFunc api.NowFunc) Option {
	return func(o *Options) error {
		if nowFunc == nil {
			return errors.New("now function must not be nil")
		}

		o.nowFunc = nowFunc

		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Options) error {
		if log != nil {
			o.log = log
		}

		return nil
	}
}
