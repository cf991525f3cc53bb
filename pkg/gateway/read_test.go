package gateway_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selesy/x402-gate/pkg/api/apitest"
	"github.com/selesy/x402-gate/pkg/gateway"
)

func transferLog(from, to common.Address, value *big.Int) *types.Log {
	transfer := gateway.ERC20ABI.Events["Transfer"]

	data, err := transfer.Inputs.NonIndexed().Pack(value)
	if err != nil {
		panic(err)
	}

	return &types.Log{
		Address: apitest.Token,
		Topics: []common.Hash{
			transfer.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}
}

func TestGateway_GetTransaction(t *testing.T) {
	t.Parallel()

	sender := common.HexToAddress(apitest.Address)

	t.Run("passes", func(t *testing.T) {
		t.Parallel()

		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    4,
			To:       &apitest.Token,
			Gas:      60_000,
			GasPrice: big.NewInt(1_000_000),
		}), types.LatestSignerForChainID(chainID), apitest.PrivateKey(t))
		require.NoError(t, err)

		backend := newFakeBackend()
		backend.txs[tx.Hash()] = tx
		backend.receipts[tx.Hash()] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			BlockNumber: big.NewInt(12),
			Logs: []*types.Log{
				transferLog(sender, apitest.Recipient, big.NewInt(2_500)),
				{Address: apitest.Token, Topics: []common.Hash{{0x01}}},
			},
		}

		g := newGateway(t, backend)

		got, err := g.GetTransaction(context.Background(), tx.Hash())
		require.NoError(t, err)

		assert.Equal(t, &gateway.Transaction{
			Hash:        tx.Hash(),
			From:        sender,
			To:          &apitest.Token,
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: 12,
			BlockTime:   apitest.Now,
			Transfers: []gateway.Transfer{{
				Token: apitest.Token,
				From:  sender,
				To:    apitest.Recipient,
				Value: big.NewInt(2_500),
			}},
		}, got)
	})

	t.Run("fails - not found", func(t *testing.T) {
		t.Parallel()

		g := newGateway(t, newFakeBackend())

		_, err := g.GetTransaction(context.Background(), common.HexToHash("0xaa"))
		require.ErrorIs(t, err, gateway.ErrNotFound)
		require.NotErrorIs(t, err, gateway.ErrRPCUnavailable)
	})
}

func TestGateway_GetStream(t *testing.T) {
	t.Parallel()

	sender := common.HexToAddress(apitest.Address)

	t.Run("passes", func(t *testing.T) {
		t.Parallel()

		g := newGateway(t, newFakeBackend())

		stream, err := g.GetStream(context.Background(), apitest.Token, sender, apitest.Recipient)
		require.NoError(t, err)
		require.NotNil(t, stream)

		assert.Equal(t, big.NewInt(385_802_469), stream.FlowRate)
		assert.Equal(t, apitest.Now, stream.LastUpdated)
		assert.Equal(t, sender, stream.Sender)
	})

	t.Run("passes - no flow", func(t *testing.T) {
		t.Parallel()

		backend := newFakeBackend()
		backend.contracts[gateway.DefaultCFAForwarder].outputs["getFlowInfo"] = []any{
			big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		}

		g := newGateway(t, backend)

		stream, err := g.GetStream(context.Background(), apitest.Token, sender, apitest.Recipient)
		require.NoError(t, err)
		assert.Nil(t, stream)
	})

	t.Run("fails - malformed response", func(t *testing.T) {
		t.Parallel()

		backend := newFakeBackend()
		backend.contracts[gateway.DefaultCFAForwarder].raw = map[string][]byte{
			"getFlowInfo": {0x01, 0x02, 0x03},
		}

		g := newGateway(t, backend)

		_, err := g.GetStream(context.Background(), apitest.Token, sender, apitest.Recipient)
		require.ErrorIs(t, err, gateway.ErrInvalidContract)
		assert.NotErrorIs(t, err, gateway.ErrRPCUnavailable)
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("passes - custom forwarder", func(t *testing.T) {
		t.Parallel()

		forwarder := common.HexToAddress("0x02")

		backend := newFakeBackend()
		backend.contracts[forwarder] = backend.contracts[gateway.DefaultCFAForwarder]
		delete(backend.contracts, gateway.DefaultCFAForwarder)

		g := newGateway(t, backend, gateway.WithCFAForwarder(forwarder))

		stream, err := g.GetStream(context.Background(), apitest.Token, sender, apitest.Recipient)
		require.NoError(t, err)
		require.NotNil(t, stream)
	})
}

func TestGateway_WatchFlowUpdates(t *testing.T) {
	t.Parallel()

	sender := common.HexToAddress(apitest.Address)

	t.Run("passes", func(t *testing.T) {
		t.Parallel()

		backend := newFakeBackend()
		g := newGateway(t, backend)

		sink := make(chan *gateway.FlowUpdate, 1)

		sub, err := g.WatchFlowUpdates(context.Background(), apitest.Token, apitest.Recipient, sink)
		require.NoError(t, err)
		t.Cleanup(sub.Unsubscribe)

		backend.mu.Lock()
		logs, query := backend.logs, backend.query
		backend.mu.Unlock()

		require.Equal(t, []common.Address{cfaAddress}, query.Addresses)
		require.Len(t, query.Topics, 4)
		assert.Equal(t, common.BytesToHash(apitest.Token.Bytes()), query.Topics[1][0])
		assert.Nil(t, query.Topics[2])
		assert.Equal(t, common.BytesToHash(apitest.Recipient.Bytes()), query.Topics[3][0])

		flowUpdated := gateway.CFAABI.Events["FlowUpdated"]

		data, err := flowUpdated.Inputs.NonIndexed().Pack(big.NewInt(0), big.NewInt(0), big.NewInt(0), []byte{})
		require.NoError(t, err)

		// A log with missing topics is skipped.
		logs <- types.Log{Topics: []common.Hash{flowUpdated.ID}}
		logs <- types.Log{
			Address: cfaAddress,
			Topics: []common.Hash{
				flowUpdated.ID,
				common.BytesToHash(apitest.Token.Bytes()),
				common.BytesToHash(sender.Bytes()),
				common.BytesToHash(apitest.Recipient.Bytes()),
			},
			Data: data,
		}

		select {
		case update := <-sink:
			assert.Equal(t, sender, update.Sender)
			assert.Equal(t, apitest.Recipient, update.Receiver)
			assert.Equal(t, apitest.Token, update.Token)
			assert.Zero(t, update.FlowRate.Sign())
		case <-time.After(5 * time.Second):
			t.Fatal("no flow update delivered")
		}
	})

	t.Run("fails - no CFA address", func(t *testing.T) {
		t.Parallel()

		g, err := gateway.New(newFakeBackend())
		require.NoError(t, err)

		_, err = g.WatchFlowUpdates(context.Background(), apitest.Token, apitest.Recipient, make(chan *gateway.FlowUpdate))
		require.ErrorIs(t, err, gateway.ErrInvalidOption)
	})
}
