// Package config loads the x402-gate server configuration.
//
// Configuration is YAML.  Values may refer to environment variables as
// ${VAR}, or ${VAR:-default} to fall back to a default when VAR is not
// set.  Prices are written in whole tokens, e.g. "0.001", and converted
// to base units using the token's decimals.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the configuration file when Load is given no path.
const EnvConfig = "X402_GATE_CONFIG"

const (
	DefaultListen      = ":8402"
	DefaultMetricsPath = "/metrics"
	DefaultLogLevel    = "info"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Listen      string `yaml:"listen" validate:"required,hostname_port"`
	Upstream    string `yaml:"upstream" validate:"required,url"`
	RPCURL      string `yaml:"rpc_url" validate:"required,url"`
	Network     string `yaml:"network" validate:"required"`
	X402Version int    `yaml:"x402_version" validate:"gte=1"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	MetricsPath string `yaml:"metrics_path" validate:"startswith=/"`
	// Recipient is the account payments must be made to.
	Recipient string `yaml:"recipient" validate:"required,eth_addr"`
	Token     Token  `yaml:"token"`
	RPC       RPC    `yaml:"rpc"`
	CacheSize int    `yaml:"cache_size" validate:"gte=0"`

	Channel *Channel `yaml:"channel"`
	OneTime *OneTime `yaml:"one_time"`
	Stream  *Stream  `yaml:"stream"`
}

// Token is the asset payments are made in.
type Token struct {
	Address  string `yaml:"address" validate:"required,eth_addr"`
	Decimals uint8  `yaml:"decimals" validate:"lte=36"`
	Name     string `yaml:"name"`
}

type RPC struct {
	Timeout       time.Duration `yaml:"timeout"`
	Retries       uint64        `yaml:"retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Channel enables payment channels.  Price is charged per request.
type Channel struct {
	Price           string        `yaml:"price" validate:"required,numeric"`
	TimestampWindow time.Duration `yaml:"timestamp_window"`
}

// OneTime enables one-time transaction payments.
type OneTime struct {
	Price          string        `yaml:"price" validate:"required,numeric"`
	Window         time.Duration `yaml:"window"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxRedemptions int           `yaml:"max_redemptions" validate:"gte=0"`
}

// Stream enables token stream payments.  FlowRate is the minimum flow in
// tokens per second.
type Stream struct {
	FlowRate  string        `yaml:"flow_rate" validate:"required,numeric"`
	CacheTime time.Duration `yaml:"cache_time"`
	Forwarder string        `yaml:"cfa_forwarder" validate:"omitempty,eth_addr"`
	// CFA is the agreement contract whose FlowUpdated events invalidate
	// cached streams.  Streams are not watched when it is empty.
	CFA string `yaml:"cfa" validate:"omitempty,eth_addr"`
}

// Load reads the configuration file at path, or the file named by
// X402_GATE_CONFIG when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path == "" {
		return nil, fmt.Errorf("%w: set %s", ErrNoConfig, EnvConfig)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads, expands, decodes and validates a configuration.
func Parse(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	expanded, err := expand(string(raw))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Listen:      DefaultListen,
		X402Version: 1,
		LogLevel:    DefaultLogLevel,
		MetricsPath: DefaultMetricsPath,
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func expand(s string) (string, error) {
	var missing []string

	expanded := os.Expand(s, func(key string) string {
		if name, def, ok := strings.Cut(key, ":-"); ok {
			if v, set := os.LookupEnv(name); set {
				return v
			}

			return def
		}

		v, set := os.LookupEnv(key)
		if !set {
			missing = append(missing, key)
		}

		return v
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	return expanded, nil
}

// Validate checks the configuration's fields and that at least one
// payment scheme is enabled.
func (c *Config) Validate() error {
	var errs error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}

		for _, verr := range verrs {
			errs = errors.Join(errs, fmt.Errorf("%w: %s fails %q", ErrInvalidConfig, verr.Namespace(), verr.Tag()))
		}
	}

	if c.Channel == nil && c.OneTime == nil && c.Stream == nil {
		errs = errors.Join(errs, fmt.Errorf("%w: no payment scheme is enabled", ErrInvalidConfig))
	}

	return errs
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}
