package api_test

import (
	"encoding/base64"
	"testing"

	"github.com/coinbase/x402/go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/api/apitest"
)

func TestPaymentHeader(t *testing.T) {
	t.Parallel()

	t.Run("passes - one-time round trip", func(t *testing.T) {
		t.Parallel()

		in := api.PaymentHeader{
			X402Version: api.X402Version,
			Network:     "base-sepolia",
			Scheme:      api.SchemeOneTime,
			Payload: &api.OneTimePayload{
				Signature: "0xabcd",
				TxHash:    "0x1234",
			},
		}

		v, err := in.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"x402Version":1,"network":"base-sepolia","scheme":"one-time","payload":{"signature":"0xabcd","tx_hash":"0x1234"}}`, v)
		assert.True(t, api.IsPaymentHeader(v))

		out, err := api.DecodePaymentHeader(v)
		require.NoError(t, err)
		assert.Equal(t, in, *out)
	})

	t.Run("passes - channel payload carries state", func(t *testing.T) {
		t.Parallel()

		in := api.PaymentHeader{
			X402Version: api.X402Version,
			Network:     "base-sepolia",
			Scheme:      api.SchemeChannel,
			Payload: &api.ChannelPayload{
				Signature:      "0xabcd",
				Message:        "0x1234",
				PaymentChannel: apitest.ChannelState(),
				Timestamp:      apitest.Now.Unix(),
			},
		}

		v, err := in.Encode()
		require.NoError(t, err)

		out, err := api.DecodePaymentHeader(v)
		require.NoError(t, err)

		payload, ok := out.Payload.(*api.ChannelPayload)
		require.True(t, ok)
		assert.True(t, apitest.ChannelState().Equal(payload.PaymentChannel))
		assert.Equal(t, apitest.Now.Unix(), payload.Timestamp)
	})

	t.Run("passes - exact is base64", func(t *testing.T) {
		t.Parallel()

		in := api.PaymentHeader{
			X402Version: api.X402Version,
			Network:     "base",
			Scheme:      api.SchemeExact,
			Payload: &api.ExactPayload{ExactEvmPayload: &types.ExactEvmPayload{
				Signature: "0xabcd",
				Authorization: &types.ExactEvmPayloadAuthorization{
					From: apitest.Address,
				},
			}},
		}

		v, err := in.Encode()
		require.NoError(t, err)

		_, err = base64.StdEncoding.DecodeString(v)
		require.NoError(t, err)
		assert.True(t, api.IsPaymentHeader(v))

		out, err := api.DecodePaymentHeader(v)
		require.NoError(t, err)
		assert.Equal(t, api.SchemeExact, out.Payload.PaymentScheme())
	})

	t.Run("passes - channel state is not a payment header", func(t *testing.T) {
		t.Parallel()

		assert.False(t, api.IsPaymentHeader(`{"balance":"0","nonce":"0","expiration":"1","channel_id":"1"}`))
		assert.False(t, api.IsPaymentHeader("garbage"))
	})

	t.Run("fails - unknown scheme", func(t *testing.T) {
		t.Parallel()

		_, err := api.DecodePaymentHeader(`{"x402Version":1,"scheme":"barter","payload":{}}`)
		require.ErrorIs(t, err, api.ErrUnknownScheme)
	})

	t.Run("fails - missing payload field", func(t *testing.T) {
		t.Parallel()

		_, err := api.DecodePaymentHeader(`{"x402Version":1,"scheme":"stream","payload":{"signature":"0xabcd"}}`)
		require.ErrorIs(t, err, api.ErrInvalidPayload)
	})

	t.Run("fails - unexpected payload field", func(t *testing.T) {
		t.Parallel()

		_, err := api.DecodePaymentHeader(`{"x402Version":1,"scheme":"stream","payload":{"signature":"0xabcd","sender":"0x01","amount":"1"}}`)
		require.ErrorIs(t, err, api.ErrInvalidPayload)
	})

	t.Run("fails - missing payload", func(t *testing.T) {
		t.Parallel()

		_, err := api.DecodePaymentHeader(`{"x402Version":1,"scheme":"stream"}`)
		require.ErrorIs(t, err, api.ErrMissingField)
	})
}
