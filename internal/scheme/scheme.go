// Package scheme contains the api.Payer implementations for the channel,
// one-time and stream payment schemes.
//
// Each payer signs one request at a time and returns both forms of
// payment: the direct headers attached before a request is sent, and the
// payload carried in X-Payment when retrying after a 402.
package scheme

import (
	"net/http"

	"github.com/selesy/x402-gate/pkg/api"
)

func signedHeaders(signed *api.SignedRequest) http.Header {
	h := http.Header{}
	h.Set(api.HeaderSignature, signed.SignatureHex())
	h.Set(api.HeaderTimestamp, signed.TimestampString())

	return h
}

func checkScheme(requirement *api.PaymentRequirement, want api.Scheme) error {
	if requirement == nil || requirement.Scheme == want {
		return nil
	}

	return errSchemeMismatch(requirement.Scheme, want)
}
