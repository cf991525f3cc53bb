package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/coinbase/x402/go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/selesy/x402-gate/internal/exact"
	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
)

var _ api.Payer = (*ExactEvm)(nil)

// ErrEVMSignerRequired is returned when the signer passed to NewExactEvm
// has no Ethereum address.
var ErrEVMSignerRequired = errors.New("exact EVM requires an EVM signer")

// ErrUnknownNetwork is returned for a requirement whose network has no
// known chain id.
var ErrUnknownNetwork = errors.New("unknown network")

// ErrUnknownToken is returned when the requirement doesn't name the
// token's EIP-712 domain and the token isn't a well-known one.
var ErrUnknownToken = errors.New("unknown token domain")

// ExactEvm is an api.Payer that handles payment requests on EVM-compatible
// networks for the x402 v1 "exact" scheme by signing an ERC-3009
// TransferWithAuthorization.
type ExactEvm struct {
	signer api.EVMSigner
	opts   *payer.Options
}

func NewExactEvm(signer api.Signer, opts ...payer.Option) (*ExactEvm, error) {
	s, ok := signer.(api.EVMSigner)
	if !ok {
		return nil, ErrEVMSignerRequired
	}

	options, err := payer.NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &ExactEvm{
		signer: s,
		opts:   options,
	}, nil
}

// Pay implements api.Payer.  An authorization names its amount and
// recipient, so there's nothing to pay until a requirement arrives.
func (e *ExactEvm) Pay(ctx context.Context, requirement *api.PaymentRequirement, _ []byte) (*api.Payment, error) {
	if requirement == nil {
		return nil, payer.ErrNoPreemptivePayment
	}

	if requirement.Scheme != api.SchemeExact {
		return nil, fmt.Errorf("%w: %w, %s", payer.ErrSchemeMismatch, errors.ErrUnsupported, requirement.Scheme)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := e.createPaymentExactEvm(requirement.X402())
	if err != nil {
		return nil, payer.FailedPaymentCreation(api.SchemeExact, err)
	}

	return &api.Payment{
		Scheme:  api.SchemeExact,
		Payload: &api.ExactPayload{ExactEvmPayload: payload},
	}, nil
}

// Scheme implements api.Payer.
func (e *ExactEvm) Scheme() api.Scheme {
	return api.SchemeExact
}

type domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (e *ExactEvm) domain(requirements types.PaymentRequirements) (domain, error) {
	var d domain

	if requirements.Extra != nil {
		if err := json.Unmarshal(*requirements.Extra, &d); err != nil {
			return d, err
		}
	}

	if d.Name != "" && d.Version != "" {
		return d, nil
	}

	tok, ok := exact.LookupToken(requirements.Network, common.HexToAddress(requirements.Asset))
	if !ok {
		return d, fmt.Errorf("%w: %s on %s", ErrUnknownToken, requirements.Asset, requirements.Network)
	}

	return domain{Name: tok.Name, Version: tok.Version}, nil
}

func (e *ExactEvm) createPaymentExactEvm(requirements types.PaymentRequirements) (*types.ExactEvmPayload, error) {
	chain, ok := exact.ChainID(requirements.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, requirements.Network)
	}

	d, err := e.domain(requirements)
	if err != nil {
		return nil, err
	}

	payload := e.authorization(requirements)

	typedData := TypedData(chain, d.Name, d.Version, requirements.Asset, payload.Authorization)

	hash, data, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, err
	}

	e.opts.Log().Debug("ERC-3009 hash", slog.String("hex", hexutil.Encode(hash)))
	e.opts.Log().Debug("ERC-3009 message", slog.String("hex", hexutil.Encode([]byte(data))))

	sig, err := e.signer.Sign(hash)
	if err != nil {
		return nil, err
	}

	sig = common.CopyBytes(sig)
	sig[crypto.RecoveryIDOffset] += 27

	payload.Signature = hexutil.Encode(sig)

	e.opts.Log().Info(
		"x402 payment authorized",
		slog.String("from", payload.Authorization.From),
		slog.String("to", payload.Authorization.To),
		slog.String("value", payload.Authorization.Value),
		observability.Scheme(requirements.Scheme),
		slog.String("network", requirements.Network),
		slog.String("name", d.Name),
	)

	return payload, nil
}

func (e *ExactEvm) authorization(details types.PaymentRequirements) *types.ExactEvmPayload {
	now := e.opts.Now()

	validAfter := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	validBefore := strconv.FormatInt(now.Add(time.Duration(details.MaxTimeoutSeconds)*time.Second).Unix(), 10)

	return &types.ExactEvmPayload{
		Authorization: &types.ExactEvmPayloadAuthorization{
			From:        e.signer.Address().Hex(),
			To:          details.PayTo,
			Value:       details.MaxAmountRequired,
			ValidAfter:  validAfter,
			ValidBefore: validBefore,
			Nonce:       hexutil.Encode(e.opts.Nonce()),
		},
	}
}

// TypedData returns the EIP-712 TransferWithAuthorization message that
// authorizes auth against the token at asset.
func TypedData(chainID *big.Int, name, version, asset string, auth *types.ExactEvmPayloadAuthorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}
