package middleware

import "errors"

// ErrInvalidOption is returned when the middleware is misconfigured.
var ErrInvalidOption = errors.New("invalid middleware option")
