package api

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/coinbase/x402/go/pkg/types"
	"github.com/ethereum/go-ethereum/common/math"
)

// PaymentRequirement is one entry in the "accepts" list of a 402
// Payment Required response.
//
// MaxAmountRequired and MimeType are only present when the requirement
// was issued by an x402 v1 server.
type PaymentRequirement struct {
	Scheme            Scheme          `json:"scheme"`
	Network           string          `json:"network"`
	Amount            string          `json:"amount,omitempty"`
	MaxAmountRequired string          `json:"maxAmountRequired,omitempty"`
	PayTo             string          `json:"payTo"`
	Asset             string          `json:"asset"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds,omitempty"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// AmountValue returns the requested amount in the asset's base units.
func (r PaymentRequirement) AmountValue() (*big.Int, error) {
	amount := r.Amount
	if amount == "" {
		amount = r.MaxAmountRequired
	}

	if amount == "" {
		return nil, fmt.Errorf("%w: amount", ErrMissingField)
	}

	v, ok := math.ParseBig256(amount)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount: %q", ErrInvalidNumber, amount)
	}

	return v, nil
}

// X402 converts r into the x402 v1 wire type.
func (r PaymentRequirement) X402() types.PaymentRequirements {
	amount := r.MaxAmountRequired
	if amount == "" {
		amount = r.Amount
	}

	out := types.PaymentRequirements{
		Scheme:            string(r.Scheme),
		Network:           r.Network,
		MaxAmountRequired: amount,
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             r.Asset,
	}

	if len(r.Extra) > 0 {
		extra := json.RawMessage(r.Extra)
		out.Extra = &extra
	}

	return out
}

// PaymentRequired represents the body of a 402 Payment Required response.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Err         string               `json:"error,omitempty"`
}

// Select returns the first requirement whose scheme appears in priority,
// honoring the order of priority rather than the order of Accepts.  If
// no prioritized scheme is accepted, the first listed requirement is
// returned.  The boolean result is false only when Accepts is empty.
func (p PaymentRequired) Select(priority []Scheme) (*PaymentRequirement, bool) {
	for _, scheme := range priority {
		for i := range p.Accepts {
			if p.Accepts[i].Scheme == scheme {
				return &p.Accepts[i], true
			}
		}
	}

	if len(p.Accepts) == 0 {
		return nil, false
	}

	return &p.Accepts[0], true
}
