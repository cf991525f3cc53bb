package payer

import (
	"errors"
	"fmt"

	"github.com/selesy/x402-gate/pkg/api"
)

var ErrFailedPaymentCreate = errors.New("failed to create payment")

// ErrNoPreemptivePayment is returned by a Payer that can only pay once
// the server has described what it wants.
var ErrNoPreemptivePayment = errors.New("scheme can't pay before a 402 response")

// ErrSchemeMismatch is returned when a Payer is asked to satisfy a
// requirement for another scheme.
var ErrSchemeMismatch = errors.New("requirement is for a different scheme")

func FailedPaymentCreation(scheme api.Scheme, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFailedPaymentCreate, scheme, err)
}
