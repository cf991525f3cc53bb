package scheme

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
)

var _ api.Payer = (*Stream)(nil)

// Stream pays by proving control of the sender of an open token stream.
type Stream struct {
	signer api.Signer
	sender common.Address
	opts   *payer.Options
}

// NewStream returns a stream payer.  A zero sender defaults to the
// signer's own address.
func NewStream(s api.Signer, sender common.Address, opts ...payer.Option) (*Stream, error) {
	options, err := payer.NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	if sender == (common.Address{}) {
		evm, ok := s.(api.EVMSigner)
		if !ok {
			return nil, ErrNoSender
		}

		sender = evm.Address()
	}

	return &Stream{
		signer: s,
		sender: sender,
		opts:   options,
	}, nil
}

// Pay implements api.Payer.
func (p *Stream) Pay(ctx context.Context, requirement *api.PaymentRequirement, _ []byte) (*api.Payment, error) {
	if err := checkScheme(requirement, api.SchemeStream); err != nil {
		return nil, err
	}

	signed, err := signer.SignStream(ctx, p.signer, p.sender, p.opts.Now())
	if err != nil {
		return nil, payer.FailedPaymentCreation(api.SchemeStream, err)
	}

	p.opts.Log().Debug("Stream digest", slog.String("hex", signed.Digest.Hex()))

	headers := signedHeaders(signed)
	headers.Set(api.HeaderSender, p.sender.Hex())

	p.opts.Log().Info("x402 stream payment signed", slog.String("sender", p.sender.Hex()))

	return &api.Payment{
		Scheme:  api.SchemeStream,
		Signed:  signed,
		Headers: headers,
		Payload: &api.StreamPayload{
			Signature: signed.SignatureHex(),
			Sender:    p.sender.Hex(),
		},
	}, nil
}

// Scheme implements api.Payer.
func (p *Stream) Scheme() api.Scheme {
	return api.SchemeStream
}
