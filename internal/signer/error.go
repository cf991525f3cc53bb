package signer

import "errors"

// ErrAccountNotFound is returned if the account passed in constructor is
// not present in the keystore.
var ErrAccountNotFound = errors.New("account not found in keystore")

// ErrEnvVarNotFound is returned when the environment variable that's
// supposed to contain the private key's hexadecimal value is not present.
var ErrEnvVarNotFound = errors.New("environment variable not found")

// ErrInvalidCurve is returned when the curve is not the Ethereum secp256k1
// curve.
var ErrInvalidCurve = errors.New("curve must be secp256k1 curve from go-ethereum")

// ErrInvalidKey is returned when private key material is missing or can't
// be parsed as a secp256k1 scalar.
var ErrInvalidKey = errors.New("invalid secp256k1 private key")

// ErrInvalidPoint is returned if the X, Y coordinates of the provided point
// are not on the secp256k1 curve.
var ErrInvalidPoint = errors.New("point coordinates must be on the secp256k1 curve")

// ErrInvalidSignature is returned when a signature is malformed or no
// public key can be recovered from it.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrSignCanceled is returned when the context is done before a signature
// was produced.
var ErrSignCanceled = errors.New("signing canceled")

// ErrInvalidPassphrase is returned when the keystore passphrase does not
// decrypt the account's key.
var ErrInvalidPassphrase = errors.New("keystore passphrase does not decrypt account")
