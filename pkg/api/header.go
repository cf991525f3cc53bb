package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coinbase/x402/go/pkg/types"
	"github.com/go-playground/validator/v10"
)

// HTTP header names used by the payment protocol.  http.Header
// canonicalizes names, so lookups are case-insensitive.
const (
	HeaderMessage         = "X-Message"
	HeaderSignature       = "X-Signature"
	HeaderTimestamp       = "X-Timestamp"
	HeaderPayment         = "X-Payment"
	HeaderTransaction     = "X-Transaction"
	HeaderSender          = "X-Sender"
	HeaderPaymentResponse = "X-Payment-Response"
	HeaderExposeHeaders   = "Access-Control-Expose-Headers"
)

// X402Version is the protocol version written into 402 responses and
// payment headers.
const X402Version = 1

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the scheme-specific part of a PaymentHeader.
type Payload interface {
	PaymentScheme() Scheme
}

var (
	_ Payload = (*OneTimePayload)(nil)
	_ Payload = (*StreamPayload)(nil)
	_ Payload = (*ChannelPayload)(nil)
	_ Payload = (*ExactPayload)(nil)
)

type OneTimePayload struct {
	Signature string `json:"signature" validate:"required"`
	TxHash    string `json:"tx_hash" validate:"required"`
}

func (*OneTimePayload) PaymentScheme() Scheme { return SchemeOneTime }

type StreamPayload struct {
	Signature string `json:"signature" validate:"required"`
	Sender    string `json:"sender" validate:"required"`
}

func (*StreamPayload) PaymentScheme() Scheme { return SchemeStream }

type ChannelPayload struct {
	Signature      string       `json:"signature" validate:"required"`
	Message        string       `json:"message" validate:"required"`
	PaymentChannel ChannelState `json:"payment_channel"`
	Timestamp      int64        `json:"timestamp" validate:"required"`
}

func (*ChannelPayload) PaymentScheme() Scheme { return SchemeChannel }

// ExactPayload is the ERC-3009 authorization used by x402 v1 "exact"
// payments.
type ExactPayload struct {
	*types.ExactEvmPayload
}

func (*ExactPayload) PaymentScheme() Scheme { return SchemeExact }

// PaymentHeader is the value of the X-Payment header sent when retrying
// a request that was answered with 402 Payment Required.
type PaymentHeader struct {
	X402Version int     `json:"x402Version"`
	Network     string  `json:"network"`
	Scheme      Scheme  `json:"scheme"`
	Payload     Payload `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete type selected by
// the scheme tag and checks that the payload's required fields are set.
func (h *PaymentHeader) UnmarshalJSON(data []byte) error {
	var raw struct {
		X402Version int             `json:"x402Version"`
		Network     string          `json:"network"`
		Scheme      Scheme          `json:"scheme"`
		Payload     json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload Payload

	switch raw.Scheme {
	case SchemeOneTime:
		payload = &OneTimePayload{}
	case SchemeStream:
		payload = &StreamPayload{}
	case SchemeChannel:
		payload = &ChannelPayload{}
	case SchemeExact:
		payload = &ExactPayload{ExactEvmPayload: &types.ExactEvmPayload{}}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheme, raw.Scheme)
	}

	if len(raw.Payload) == 0 {
		return fmt.Errorf("%w: payload", ErrMissingField)
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Payload))
	if raw.Scheme != SchemeExact {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, raw.Scheme, err)
	}

	if raw.Scheme != SchemeExact {
		if err := validate.Struct(payload); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, raw.Scheme, err)
		}
	}

	*h = PaymentHeader{
		X402Version: raw.X402Version,
		Network:     raw.Network,
		Scheme:      raw.Scheme,
		Payload:     payload,
	}

	return nil
}

// Encode returns the X-Payment header value.  Payments for the "exact"
// scheme are base64 encoded as x402 v1 servers expect, all others are
// plain JSON.
func (h PaymentHeader) Encode() (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}

	if h.Scheme == SchemeExact {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	return string(data), nil
}

// IsPaymentHeader reports whether the X-Payment header value v carries a
// PaymentHeader rather than a bare ChannelState.
func IsPaymentHeader(v string) bool {
	data, ok := headerJSON(v)
	if !ok {
		return false
	}

	var probe struct {
		Scheme Scheme `json:"scheme"`
	}

	return json.Unmarshal(data, &probe) == nil && probe.Scheme != ""
}

// DecodePaymentHeader parses an X-Payment header value in either its
// plain JSON or base64 encoded form.
func DecodePaymentHeader(v string) (*PaymentHeader, error) {
	data, ok := headerJSON(v)
	if !ok {
		return nil, fmt.Errorf("%w: header is neither JSON nor base64 JSON", ErrInvalidPayload)
	}

	var h PaymentHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}

	return &h, nil
}

func headerJSON(v string) ([]byte, bool) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "{") {
		return []byte(v), true
	}

	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil || !json.Valid(data) {
		return nil, false
	}

	return data, true
}
