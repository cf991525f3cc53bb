package gateway

import "errors"

// ErrRPCUnavailable is returned when the RPC endpoint couldn't be
// reached, or kept failing, within the configured retries and timeout.
var ErrRPCUnavailable = errors.New("rpc unavailable")

// ErrNotFound is returned when the requested transaction or receipt
// doesn't exist on chain.
var ErrNotFound = errors.New("not found")

// ErrInvalidContract is returned when a contract answers a call with
// data that doesn't decode as the method's outputs.
var ErrInvalidContract = errors.New("invalid contract response")

// ErrTransactionReverted is returned when a transaction sent by the
// gateway was mined with a failed status.
var ErrTransactionReverted = errors.New("transaction reverted")

// ErrEventNotFound is returned when a mined transaction doesn't carry
// the log it was expected to emit.
var ErrEventNotFound = errors.New("event not found in receipt")

// ErrNoSigner is returned by write operations when the gateway was
// created without WithSigner.
var ErrNoSigner = errors.New("gateway has no signer")

// ErrInvalidOption is returned when an Option is given an unusable
// value.
var ErrInvalidOption = errors.New("invalid gateway option")
