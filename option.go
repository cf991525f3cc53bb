package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/exact/evm"
	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/internal/scheme"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
	"github.com/selesy/x402-gate/pkg/store"
)

type payerFactory func(s api.Signer, st *store.Store, opts ...payer.Option) (api.Payer, error)

type config struct {
	client     *http.Client
	log        *slog.Logger
	store      *store.Store
	channels   []api.ChannelState
	payers     []payerFactory
	preemptive bool
	nowFunc    api.NowFunc
	nonceFunc  api.NonceFunc
}

// Option represents a means of altering the default configuration of the
// paying http.RoundTripper.
type Option func(*config) error

func newConfig(opts ...Option) (*config, error) {
	var errs error

	cfg := &config{
		client: &http.Client{
			Transport: http.DefaultTransport,
		},
		log:        observability.NewNoopLogger(),
		preemptive: true,
		nowFunc:    time.Now,
		nonceFunc:  api.DefaultNonce,
	}

	for _, opt := range opts {
		errs = errors.Join(errs, opt(cfg))
	}

	if errs != nil {
		return nil, errs
	}

	if cfg.store == nil {
		cfg.store = store.New()
	}

	return cfg, nil
}

func (c *config) payerOptions() []payer.Option {
	return []payer.Option{
		payer.WithLogger(c.log),
		payer.WithNowFunc(c.nowFunc),
		payer.WithNonceFunc(c.nonceFunc),
	}
}

// WithClient is an Option that allows the user to provide a custom http.Client
// whose http.RoundTripper will be wrapped to allow x402 payments.
//
// If not provided, a client using http.DefaultTransport is created.  This
// option is ignored when provided as an argument to NewTransport.
func WithClient(client *http.Client) Option {
	return func(c *config) error {
		if client == nil {
			return errors.New("client must not be nil")
		}

		c.client = client

		return nil
	}
}

// WithLogger is an Option that allows the user to provide an slog.Logger that
// can be used to observe the internal operation of the paying
// http.RoundTripper.
//
// If not provided, a No-Op logger is used.  Under normal operation, this library
// writes one line of INFO-level logging for each payment that's made.  Debug-
// level logging provides a log record for each step in the payment process.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}

		c.log = log

		return nil
	}
}

// WithStore provides the channel state store.  A transport otherwise owns
// a private store that only it can reach.
func WithStore(st *store.Store) Option {
	return func(c *config) error {
		if st == nil {
			return errors.New("store must not be nil")
		}

		c.store = st

		return nil
	}
}

// WithChannel registers the channel opened by the transaction that emitted
// ev and pays with it at the channel's price.  The channel scheme takes
// its place in the payment priority at the position of this option.
func WithChannel(ev api.ChannelCreatedEvent) Option {
	return WithChannelState(ev.State(), ev.Price)
}

// WithChannelState is like WithChannel for a channel whose current state
// is already known, for instance after a restart.
func WithChannelState(state api.ChannelState, price *big.Int) Option {
	return func(c *config) error {
		if state.ChannelID == nil {
			return fmt.Errorf("%w: channel_id", api.ErrMissingField)
		}

		state = state.Clone()
		c.channels = append(c.channels, state)
		c.payers = append(c.payers, func(s api.Signer, st *store.Store, opts ...payer.Option) (api.Payer, error) {
			return scheme.NewChannel(s, st, state.ID(), price, opts...)
		})

		return nil
	}
}

// WithOneTimeTransaction pays with the mined token transfer tx.
func WithOneTimeTransaction(tx common.Hash) Option {
	return func(c *config) error {
		if tx == (common.Hash{}) {
			return fmt.Errorf("%w: transaction hash", api.ErrMissingField)
		}

		c.payers = append(c.payers, func(s api.Signer, _ *store.Store, opts ...payer.Option) (api.Payer, error) {
			return scheme.NewOneTime(s, tx, opts...)
		})

		return nil
	}
}

// WithStreamSender pays by proving control of sender's token stream.  A
// zero address uses the signer's own address.
func WithStreamSender(sender common.Address) Option {
	return func(c *config) error {
		c.payers = append(c.payers, func(s api.Signer, _ *store.Store, opts ...payer.Option) (api.Payer, error) {
			return scheme.NewStream(s, sender, opts...)
		})

		return nil
	}
}

// WithExactPayments enables x402 v1 "exact" payments signed as ERC-3009
// authorizations.  This is the only scheme enabled when no other scheme
// Option is given.
func WithExactPayments() Option {
	return func(c *config) error {
		c.payers = append(c.payers, newExactPayer)

		return nil
	}
}

// WithPreemptivePayment controls whether the highest priority scheme pays
// before the server asks by attaching its direct headers.  It defaults to
// true.
func WithPreemptivePayment(enabled bool) Option {
	return func(c *config) error {
		c.preemptive = enabled

		return nil
	}
}

// WithNowFunc replaces the clock used to timestamp signed requests.
func WithNowFunc(nowFunc api.NowFunc) Option {
	return func(c *config) error {
		if nowFunc == nil {
			return errors.New("now function must not be nil")
		}

		c.nowFunc = nowFunc

		return nil
	}
}

// WithNonceFunc replaces the randomness used by payloads that carry a
// nonce.
func WithNonceFunc(nonceFunc api.NonceFunc) Option {
	return func(c *config) error {
		if nonceFunc == nil {
			return errors.New("nonce function must not be nil")
		}

		c.nonceFunc = nonceFunc

		return nil
	}
}

func newExactPayer(s api.Signer, _ *store.Store, opts ...payer.Option) (api.Payer, error) {
	return evm.NewExactEvm(s, opts...)
}
