package api

import "errors"

// ErrMissingField is returned when a required field of a wire type is
// absent or empty.
var ErrMissingField = errors.New("missing required field")

// ErrInvalidNumber is returned when a numeric wire field is not an
// unsigned integer that fits in 256 bits (or 64 bits where noted).
var ErrInvalidNumber = errors.New("invalid unsigned integer")

// ErrUnknownScheme is returned when a payment names a scheme this
// package doesn't know how to decode.
var ErrUnknownScheme = errors.New("unknown payment scheme")

// ErrInvalidPayload is returned when a payment header's payload doesn't
// match the shape required by its scheme.
var ErrInvalidPayload = errors.New("invalid payment payload")
