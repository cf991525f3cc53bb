package config

import "errors"

// ErrNoConfig is returned by Load when no configuration file is named.
var ErrNoConfig = errors.New("no configuration file")

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrMissingEnv is returned when the configuration refers to an
// environment variable that is not set and has no default.
var ErrMissingEnv = errors.New("missing environment variable")
