package gate

import (
	"errors"
	"fmt"

	"github.com/selesy/x402-gate/pkg/api"
)

// ErrPaymentRequired is wrapped by the PaymentRequiredError returned when
// a request is still refused after it was retried with a payment.
var ErrPaymentRequired = errors.New("payment required")

// ErrNoAcceptablePayment is returned when the server's 402 response
// lists no requirement this transport is able to pay.
var ErrNoAcceptablePayment = errors.New("no acceptable payment")

// PaymentRequiredError carries the server's second 402 response.
type PaymentRequiredError struct {
	StatusCode int
	Required   api.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	if e.Required.Err == "" {
		return ErrPaymentRequired.Error()
	}

	return fmt.Sprintf("%s: %s", ErrPaymentRequired, e.Required.Err)
}

func (e *PaymentRequiredError) Unwrap() error {
	return ErrPaymentRequired
}
