package scheme

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
	"github.com/selesy/x402-gate/pkg/store"
)

var _ api.Payer = (*Channel)(nil)

// Channel pays by signing the next state of a payment channel held in a
// store.Store.
type Channel struct {
	signer api.Signer
	store  *store.Store
	id     string
	price  *big.Int
	opts   *payer.Options
}

// NewChannel returns a payer for channel id.  The channel must already be
// in st.  Price is the per-request amount used when paying before the
// server has quoted one.
func NewChannel(s api.Signer, st *store.Store, id string, price *big.Int, opts ...payer.Option) (*Channel, error) {
	options, err := payer.NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	if _, ok := st.Get(id); !ok {
		return nil, store.ErrChannelNotFound
	}

	if price == nil {
		price = new(big.Int)
	}

	return &Channel{
		signer: s,
		store:  st,
		id:     id,
		price:  new(big.Int).Set(price),
		opts:   options,
	}, nil
}

// ID returns the channel id this payer signs for.
func (c *Channel) ID() string {
	return c.id
}

// Pay implements api.Payer.  The store is advanced before the request is
// signed so that concurrent calls never sign the same nonce.  If signing
// fails the advance is undone.
func (c *Channel) Pay(ctx context.Context, requirement *api.PaymentRequirement, body []byte) (*api.Payment, error) {
	if err := checkScheme(requirement, api.SchemeChannel); err != nil {
		return nil, err
	}

	price := c.price

	if requirement != nil {
		amount, err := requirement.AmountValue()
		if err != nil {
			return nil, payer.FailedPaymentCreation(api.SchemeChannel, err)
		}

		price = amount
	}

	prev, next, err := c.store.Advance(c.id, price)
	if err != nil {
		return nil, err
	}

	signed, err := signer.SignChannel(ctx, c.signer, prev, body, c.opts.Now())
	if err != nil {
		c.store.Revert(c.id, prev, next)

		return nil, payer.FailedPaymentCreation(api.SchemeChannel, err)
	}

	state, err := json.Marshal(prev)
	if err != nil {
		c.store.Revert(c.id, prev, next)

		return nil, payer.FailedPaymentCreation(api.SchemeChannel, err)
	}

	c.opts.Log().Debug("Channel digest",
		observability.Channel(c.id),
		slog.String("hex", signed.Digest.Hex()),
		slog.Uint64("nonce", prev.Nonce),
	)

	headers := signedHeaders(signed)
	headers.Set(api.HeaderMessage, signed.Digest.Hex())
	headers.Set(api.HeaderPayment, string(state))

	c.opts.Log().Info(
		"x402 channel payment signed",
		observability.Channel(c.id),
		slog.Uint64("nonce", prev.Nonce),
		slog.String("balance", prev.Balance.String()),
		slog.String("amount", price.String()),
	)

	return &api.Payment{
		Scheme:  api.SchemeChannel,
		Signed:  signed,
		Headers: headers,
		Payload: &api.ChannelPayload{
			Signature:      signed.SignatureHex(),
			Message:        signed.Digest.Hex(),
			PaymentChannel: prev,
			Timestamp:      signed.Timestamp,
		},
		Channel:  &prev,
		Advanced: &next,
	}, nil
}

// Scheme implements api.Payer.
func (c *Channel) Scheme() api.Scheme {
	return api.SchemeChannel
}
