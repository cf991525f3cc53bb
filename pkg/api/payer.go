package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"
)

// Scheme names a payment-proof shape and the verification procedure that
// goes with it.
type Scheme string

const (
	SchemeOneTime Scheme = "one-time"
	SchemeStream  Scheme = "stream"
	SchemeChannel Scheme = "channel"
	SchemeExact   Scheme = "exact"
)

// Valid reports whether s is one of the known schemes.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeOneTime, SchemeStream, SchemeChannel, SchemeExact:
		return true
	default:
		return false
	}
}

// Payer represents types that can be registered and make payments on the
// client's behalf.
type Payer interface {
	// Pay signs a payment for the given request body.  When requirement
	// is nil, the payment is being made before the server has asked for
	// one and only the direct headers of the returned Payment are used.
	Pay(ctx context.Context, requirement *PaymentRequirement, body []byte) (*Payment, error)
	// Scheme returns a constant Scheme that the http.RoundTripper uses to
	// "route" a payment request to a Payer that can make the appropriate
	// payment.
	Scheme() Scheme
}

// Payment is the result of a single Payer.Pay call.
type Payment struct {
	Scheme Scheme
	Signed *SignedRequest

	// Headers are attached to a request that is paid before any 402.
	Headers http.Header
	// Payload is sent in the X-Payment header when retrying after a 402.
	Payload Payload

	// Channel is the state that was signed and Advanced is the state the
	// store was optimistically moved to.  Both are nil for schemes other
	// than SchemeChannel.
	Channel  *ChannelState
	Advanced *ChannelState
}

// NonceFunc returns fresh randomness for payloads that carry a nonce.
type NonceFunc func() []byte

type NowFunc func() time.Time

// DefaultNonce returns 32 random bytes.
func DefaultNonce() []byte {
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)

	return nonce
}
