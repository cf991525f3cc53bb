package scheme

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
)

var _ api.Payer = (*OneTime)(nil)

// OneTime pays by proving ownership of an already mined token transfer.
type OneTime struct {
	signer api.Signer
	tx     common.Hash
	opts   *payer.Options
}

func NewOneTime(s api.Signer, tx common.Hash, opts ...payer.Option) (*OneTime, error) {
	options, err := payer.NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &OneTime{
		signer: s,
		tx:     tx,
		opts:   options,
	}, nil
}

// Pay implements api.Payer.
func (o *OneTime) Pay(ctx context.Context, requirement *api.PaymentRequirement, _ []byte) (*api.Payment, error) {
	if err := checkScheme(requirement, api.SchemeOneTime); err != nil {
		return nil, err
	}

	signed, err := signer.SignOneTime(ctx, o.signer, o.tx, o.opts.Now())
	if err != nil {
		return nil, payer.FailedPaymentCreation(api.SchemeOneTime, err)
	}

	o.opts.Log().Debug("One-time digest", slog.String("hex", signed.Digest.Hex()))

	headers := signedHeaders(signed)
	headers.Set(api.HeaderTransaction, o.tx.Hex())

	o.opts.Log().Info("x402 one-time payment signed", slog.String("tx", o.tx.Hex()))

	return &api.Payment{
		Scheme:  api.SchemeOneTime,
		Signed:  signed,
		Headers: headers,
		Payload: &api.OneTimePayload{
			Signature: signed.SignatureHex(),
			TxHash:    o.tx.Hex(),
		},
	}, nil
}

// Scheme implements api.Payer.
func (o *OneTime) Scheme() api.Scheme {
	return api.SchemeOneTime
}
