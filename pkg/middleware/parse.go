package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// proof is a payment read from request headers, in exactly one of its
// scheme forms.
type proof struct {
	scheme  api.Scheme
	network string
	// retry is set when the payment arrived as a PaymentHeader in answer
	// to a 402.
	retry bool

	channel *verifier.ChannelRequest
	oneTime *verifier.OneTimeRequest
	stream  *verifier.StreamRequest
}

// parseProof returns nil and no error when the request carries no
// payment at all.
func parseProof(h http.Header, body []byte, resource string) (*proof, error) {
	payment := h.Get(api.HeaderPayment)

	switch {
	case payment != "" && api.IsPaymentHeader(payment):
		return parsePaymentHeader(payment, body, resource)
	case h.Get(api.HeaderTransaction) != "":
		return parseOneTimeHeaders(h)
	case h.Get(api.HeaderSender) != "":
		return parseStreamHeaders(h, resource)
	case payment != "" || h.Get(api.HeaderMessage) != "":
		return parseChannelHeaders(h, body)
	default:
		return nil, nil
	}
}

func parsePaymentHeader(v string, body []byte, resource string) (*proof, error) {
	header, err := api.DecodePaymentHeader(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", verifier.ErrInvalidHeaders, api.HeaderPayment, err)
	}

	p := &proof{
		scheme:  header.Scheme,
		network: header.Network,
		retry:   true,
	}

	switch payload := header.Payload.(type) {
	case *api.ChannelPayload:
		sig, err := decodeSignature(payload.Signature)
		if err != nil {
			return nil, err
		}

		msg, err := decodeHash("message", payload.Message)
		if err != nil {
			return nil, err
		}

		p.channel = &verifier.ChannelRequest{
			State:     payload.PaymentChannel,
			Message:   msg,
			Signature: sig,
			Timestamp: payload.Timestamp,
			Body:      body,
		}
	case *api.OneTimePayload:
		sig, err := decodeSignature(payload.Signature)
		if err != nil {
			return nil, err
		}

		tx, err := decodeHash("tx_hash", payload.TxHash)
		if err != nil {
			return nil, err
		}

		p.oneTime = &verifier.OneTimeRequest{TxHash: tx, Signature: sig}
	case *api.StreamPayload:
		sig, err := decodeSignature(payload.Signature)
		if err != nil {
			return nil, err
		}

		sender, err := decodeAddress("sender", payload.Sender)
		if err != nil {
			return nil, err
		}

		p.stream = &verifier.StreamRequest{Sender: sender, Signature: sig, Resource: resource}
	default:
		return nil, fmt.Errorf("%w: %s", verifier.ErrSchemeDisabled, header.Scheme)
	}

	return p, nil
}

func parseChannelHeaders(h http.Header, body []byte) (*proof, error) {
	if err := requireHeaders(h, api.HeaderSignature, api.HeaderMessage, api.HeaderTimestamp, api.HeaderPayment); err != nil {
		return nil, err
	}

	sig, err := decodeSignature(h.Get(api.HeaderSignature))
	if err != nil {
		return nil, err
	}

	msg, err := decodeHash(api.HeaderMessage, h.Get(api.HeaderMessage))
	if err != nil {
		return nil, err
	}

	ts, err := strconv.ParseInt(h.Get(api.HeaderTimestamp), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", verifier.ErrInvalidHeaders, api.HeaderTimestamp, err)
	}

	var state api.ChannelState
	if err := json.Unmarshal([]byte(h.Get(api.HeaderPayment)), &state); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", verifier.ErrInvalidHeaders, api.HeaderPayment, err)
	}

	return &proof{
		scheme: api.SchemeChannel,
		channel: &verifier.ChannelRequest{
			State:     state,
			Message:   msg,
			Signature: sig,
			Timestamp: ts,
			Body:      body,
		},
	}, nil
}

func parseOneTimeHeaders(h http.Header) (*proof, error) {
	if err := requireHeaders(h, api.HeaderSignature); err != nil {
		return nil, err
	}

	sig, err := decodeSignature(h.Get(api.HeaderSignature))
	if err != nil {
		return nil, err
	}

	tx, err := decodeHash(api.HeaderTransaction, h.Get(api.HeaderTransaction))
	if err != nil {
		return nil, err
	}

	return &proof{
		scheme:  api.SchemeOneTime,
		oneTime: &verifier.OneTimeRequest{TxHash: tx, Signature: sig},
	}, nil
}

func parseStreamHeaders(h http.Header, resource string) (*proof, error) {
	if err := requireHeaders(h, api.HeaderSignature); err != nil {
		return nil, err
	}

	sig, err := decodeSignature(h.Get(api.HeaderSignature))
	if err != nil {
		return nil, err
	}

	sender, err := decodeAddress(api.HeaderSender, h.Get(api.HeaderSender))
	if err != nil {
		return nil, err
	}

	return &proof{
		scheme: api.SchemeStream,
		stream: &verifier.StreamRequest{Sender: sender, Signature: sig, Resource: resource},
	}, nil
}

func requireHeaders(h http.Header, names ...string) error {
	var missing []string

	for _, name := range names {
		if h.Get(name) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", verifier.ErrMissingHeaders, missing)
	}

	return nil
}

func decodeSignature(v string) ([]byte, error) {
	sig, err := hexutil.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", verifier.ErrInvalidHeaders, err)
	}

	return sig, nil
}

func decodeHash(name, v string) (common.Hash, error) {
	b, err := hexutil.Decode(v)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s: %w", verifier.ErrInvalidHeaders, name, err)
	}

	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s: %d bytes", verifier.ErrInvalidHeaders, name, len(b))
	}

	return common.BytesToHash(b), nil
}

func decodeAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s: %q is not an address", verifier.ErrInvalidHeaders, name, v)
	}

	return common.HexToAddress(v), nil
}
