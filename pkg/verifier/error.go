package verifier

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingHeaders is returned when a request carries no payment, or
	// only part of one.
	ErrMissingHeaders = errors.New("missing payment headers")
	// ErrInvalidHeaders is returned when payment headers can't be parsed.
	ErrInvalidHeaders = errors.New("invalid payment headers")
	// ErrInvalidMessage is returned when the signed message doesn't match
	// the one reconstructed from the request.
	ErrInvalidMessage = errors.New("signed message does not match request")
	// ErrInvalidSignature is returned when a signature can't be recovered
	// or was made by the wrong account.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrStaleNonce is returned when a channel nonce was already used.
	ErrStaleNonce = errors.New("stale nonce")
	// ErrNonceGap is returned when a channel nonce skips ahead of the
	// next expected nonce.
	ErrNonceGap = errors.New("nonce gap")
	// ErrInsufficientBalance is returned when a channel claim doesn't pay
	// for the request or exceeds the channel's deposit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrExpired is returned for channels at or past their expiration.
	ErrExpired = errors.New("channel expired")
	// ErrTimestamp is returned when a signed timestamp is outside the
	// accepted window.
	ErrTimestamp = errors.New("timestamp outside accepted window")
	// ErrInvalidChannel is returned when a channel doesn't exist on chain
	// or doesn't match the claimed state.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrTransactionNotFound is returned when a one-time payment's
	// transaction hasn't been mined.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionAlreadyConsumed is returned when a one-time payment
	// has been redeemed as many times as allowed.
	ErrTransactionAlreadyConsumed = errors.New("transaction already consumed")
	// ErrInvalidTransaction is returned when a transaction doesn't pay the
	// recipient as required.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrStreamNotActive is returned when the sender has no stream to the
	// recipient, or its flow rate is too low.
	ErrStreamNotActive = errors.New("stream not active")
	// ErrRPCUnavailable is returned when chain state couldn't be read.
	// It is the only retryable error.
	ErrRPCUnavailable = errors.New("rpc unavailable")
	// ErrSchemeDisabled is returned when a payment uses a scheme the
	// verifier wasn't configured for.
	ErrSchemeDisabled = errors.New("payment scheme not enabled")
	// ErrInvalidOption is returned when an Option is given an unusable
	// value.
	ErrInvalidOption = errors.New("invalid verifier option")
)

type kind struct {
	err    error
	status int
	code   string
}

var kinds = []kind{
	{ErrRPCUnavailable, http.StatusServiceUnavailable, "rpc_unavailable"},
	{ErrMissingHeaders, http.StatusPaymentRequired, "missing_headers"},
	{ErrInvalidHeaders, http.StatusBadRequest, "invalid_headers"},
	{ErrInvalidMessage, http.StatusBadRequest, "invalid_message"},
	{ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{ErrStaleNonce, http.StatusBadRequest, "stale_nonce"},
	{ErrNonceGap, http.StatusBadRequest, "nonce_gap"},
	{ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{ErrExpired, http.StatusUnauthorized, "expired"},
	{ErrTimestamp, http.StatusRequestTimeout, "timestamp"},
	{ErrInvalidChannel, http.StatusBadRequest, "invalid_channel"},
	{ErrTransactionNotFound, http.StatusPaymentRequired, "transaction_not_found"},
	{ErrTransactionAlreadyConsumed, http.StatusPaymentRequired, "transaction_already_consumed"},
	{ErrInvalidTransaction, http.StatusPaymentRequired, "invalid_transaction"},
	{ErrStreamNotActive, http.StatusPaymentRequired, "stream_not_active"},
	{ErrSchemeDisabled, http.StatusPaymentRequired, "scheme_disabled"},
}

func kindOf(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}

	return kind{}, false
}

// Retryable reports whether a request rejected with err may succeed if
// sent again unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrRPCUnavailable)
}

// StatusCode returns the HTTP status a server should answer a request
// rejected with err.  Errors outside the taxonomy map to 500.
func StatusCode(err error) int {
	if k, ok := kindOf(err); ok {
		return k.status
	}

	return http.StatusInternalServerError
}

// Code returns a stable machine-readable name for err.
func Code(err error) string {
	if k, ok := kindOf(err); ok {
		return k.code
	}

	return "internal_error"
}
