package config

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// BaseUnits converts an amount of whole tokens to the token's base
// units.  The amount must be positive and representable exactly.
func BaseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %w", ErrInvalidConfig, amount, err)
	}

	units := d.Shift(int32(decimals))

	switch {
	case units.Sign() <= 0:
		return nil, fmt.Errorf("%w: amount %q must be positive", ErrInvalidConfig, amount)
	case !units.IsInteger():
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidConfig, amount, decimals)
	}

	return units.BigInt(), nil
}

type prices struct {
	channel  *big.Int
	oneTime  *big.Int
	flowRate *big.Int
}

func (c *Config) prices() (*prices, error) {
	var (
		p   prices
		err error
	)

	if c.Channel != nil {
		if p.channel, err = BaseUnits(c.Channel.Price, c.Token.Decimals); err != nil {
			return nil, fmt.Errorf("channel price: %w", err)
		}
	}

	if c.OneTime != nil {
		if p.oneTime, err = BaseUnits(c.OneTime.Price, c.Token.Decimals); err != nil {
			return nil, fmt.Errorf("one-time price: %w", err)
		}
	}

	if c.Stream != nil {
		if p.flowRate, err = BaseUnits(c.Stream.FlowRate, c.Token.Decimals); err != nil {
			return nil, fmt.Errorf("stream flow rate: %w", err)
		}
	}

	return &p, nil
}

// VerifierOptions returns the options that enable the configured
// schemes.
func (c *Config) VerifierOptions() ([]verifier.Option, error) {
	p, err := c.prices()
	if err != nil {
		return nil, err
	}

	recipient := common.HexToAddress(c.Recipient)
	token := common.HexToAddress(c.Token.Address)

	var opts []verifier.Option

	if c.Channel != nil {
		opts = append(opts, verifier.WithChannel(verifier.ChannelConfig{
			Recipient:       recipient,
			Token:           token,
			Amount:          p.channel,
			TimestampWindow: c.Channel.TimestampWindow,
		}))
	}

	if c.OneTime != nil {
		opts = append(opts, verifier.WithOneTime(verifier.OneTimeConfig{
			Recipient:      recipient,
			Token:          token,
			Amount:         p.oneTime,
			Window:         c.OneTime.Window,
			SessionTTL:     c.OneTime.SessionTTL,
			MaxRedemptions: c.OneTime.MaxRedemptions,
		}))
	}

	if c.Stream != nil {
		opts = append(opts, verifier.WithStream(verifier.StreamConfig{
			Recipient: recipient,
			Token:     token,
			FlowRate:  p.flowRate,
			CacheTime: c.Stream.CacheTime,
		}))
	}

	if c.RPC.Timeout > 0 {
		opts = append(opts, verifier.WithRPCTimeout(c.RPC.Timeout))
	}

	if c.CacheSize > 0 {
		opts = append(opts, verifier.WithCacheSize(c.CacheSize))
	}

	return opts, nil
}

// GatewayOptions returns the chain connection options.
func (c *Config) GatewayOptions() []gateway.Option {
	var opts []gateway.Option

	if c.RPC.Timeout > 0 {
		opts = append(opts, gateway.WithTimeout(c.RPC.Timeout))
	}

	if c.RPC.Retries > 0 {
		interval := c.RPC.RetryInterval
		if interval <= 0 {
			interval = gateway.DefaultRetryInterval
		}

		opts = append(opts, gateway.WithRetries(c.RPC.Retries, interval))
	}

	if c.Stream != nil && c.Stream.Forwarder != "" {
		opts = append(opts, gateway.WithCFAForwarder(common.HexToAddress(c.Stream.Forwarder)))
	}

	if c.Stream != nil && c.Stream.CFA != "" {
		opts = append(opts, gateway.WithCFA(common.HexToAddress(c.Stream.CFA)))
	}

	return opts
}

// Requirements returns the "accepts" list of 402 responses, in the
// order channel, one-time, stream.
func (c *Config) Requirements() ([]api.PaymentRequirement, error) {
	p, err := c.prices()
	if err != nil {
		return nil, err
	}

	extra, err := json.Marshal(struct {
		Name     string `json:"name,omitempty"`
		Decimals uint8  `json:"decimals"`
	}{c.Token.Name, c.Token.Decimals})
	if err != nil {
		return nil, err
	}

	requirement := func(scheme api.Scheme, amount *big.Int) api.PaymentRequirement {
		return api.PaymentRequirement{
			Scheme:  scheme,
			Network: c.Network,
			Amount:  amount.String(),
			PayTo:   common.HexToAddress(c.Recipient).Hex(),
			Asset:   common.HexToAddress(c.Token.Address).Hex(),
			Extra:   extra,
		}
	}

	var reqs []api.PaymentRequirement

	if c.Channel != nil {
		reqs = append(reqs, requirement(api.SchemeChannel, p.channel))
	}

	if c.OneTime != nil {
		reqs = append(reqs, requirement(api.SchemeOneTime, p.oneTime))
	}

	if c.Stream != nil {
		reqs = append(reqs, requirement(api.SchemeStream, p.flowRate))
	}

	return reqs, nil
}
