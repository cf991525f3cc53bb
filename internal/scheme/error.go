package scheme

import (
	"errors"
	"fmt"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
)

// ErrNoSender is returned by NewStream when no sender was given and the
// signer has no address of its own.
var ErrNoSender = errors.New("stream sender is required")

func errSchemeMismatch(got, want api.Scheme) error {
	return fmt.Errorf("%w: got %s, want %s", payer.ErrSchemeMismatch, got, want)
}
