package middleware

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// Payment is the verified payment of the request being served.  Exactly
// one of Channel, OneTime and Stream is set.
type Payment struct {
	RequestID string
	Scheme    api.Scheme
	// Network is only known for payments sent after a 402.
	Network string
	Sender  common.Address

	Channel *verifier.ChannelResult
	OneTime *verifier.OneTimeResult
	Stream  *verifier.StreamResult
}

type paymentKey struct{}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p *Payment) context.Context {
	return context.WithValue(ctx, paymentKey{}, p)
}

// FromContext returns the payment stored in ctx by the middleware, or
// nil.
func FromContext(ctx context.Context) *Payment {
	p, _ := ctx.Value(paymentKey{}).(*Payment)

	return p
}
