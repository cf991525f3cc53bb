package gateway_test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/api/apitest"
	"github.com/selesy/x402-gate/pkg/gateway"
)

var (
	chainID        = big.NewInt(84532)
	errUnavailable = errors.New("connection refused")
)

type fakeContract struct {
	abi     abi.ABI
	outputs map[string][]any
	// raw, when set for a method, is returned undecoded.
	raw map[string][]byte
}

type sentTx struct {
	to     common.Address
	method string
	args   []any
	tx     *types.Transaction
}

// fakeBackend answers contract calls by method id from canned outputs
// and mines every sent transaction immediately.
type fakeBackend struct {
	gateway.Backend

	mu        sync.Mutex
	contracts map[common.Address]*fakeContract
	failCalls int
	calls     int
	nonce     uint64
	sent      []sentTx
	receipts  map[common.Hash]*types.Receipt
	txs       map[common.Hash]*types.Transaction
	onSend    func(s sentTx) *types.Receipt
	logs      chan<- types.Log
	query     ethereum.FilterQuery
}

func newFakeBackend() *fakeBackend {
	expiration := big.NewInt(apitest.Now.Unix() + 86400)

	return &fakeBackend{
		contracts: map[common.Address]*fakeContract{
			apitest.ChannelAddress: {
				abi: gateway.PaymentChannelABI,
				outputs: map[string][]any{
					"channelId":  {big.NewInt(7)},
					"sender":     {common.HexToAddress(apitest.Address)},
					"recipient":  {apitest.Recipient},
					"token":      {apitest.Token},
					"expiration": {expiration},
					"price":      {big.NewInt(1_000)},
					"getBalance": {big.NewInt(1_000_000)},
					"balance":    {big.NewInt(1_000_000)},
				},
			},
			apitest.Token: {
				abi: gateway.ERC20ABI,
				outputs: map[string][]any{
					"balanceOf": {big.NewInt(5_000_000)},
					"approve":   {true},
				},
			},
			apitest.Factory: {
				abi:     gateway.ChannelFactoryABI,
				outputs: map[string][]any{},
			},
			gateway.DefaultCFAForwarder: {
				abi: gateway.CFAForwarderABI,
				outputs: map[string][]any{
					"getFlowInfo": {
						big.NewInt(apitest.Now.Unix()),
						big.NewInt(385_802_469),
						big.NewInt(1_000_000_000),
						big.NewInt(0),
					},
				},
			},
		},
		receipts: map[common.Hash]*types.Receipt{},
		txs:      map[common.Hash]*types.Transaction{},
	}
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++

	if b.failCalls > 0 {
		b.failCalls--

		return nil, errUnavailable
	}

	c, ok := b.contracts[*msg.To]
	if !ok {
		return nil, nil
	}

	method, err := c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	if out, ok := c.raw[method.Name]; ok {
		return out, nil
	}

	return method.Outputs.Pack(c.outputs[method.Name]...)
}

func (b *fakeBackend) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.contracts[addr]; ok {
		return []byte{0x60, 0x80}, nil
	}

	return nil, nil
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(chainID), nil
}

func (b *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		number = big.NewInt(1)
	}

	return &types.Header{
		Number: number,
		Time:   uint64(apitest.Now.Unix()),
	}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.nonce, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := sentTx{to: *tx.To(), tx: tx}

	if c, ok := b.contracts[s.to]; ok {
		method, err := c.abi.MethodById(tx.Data()[:4])
		if err != nil {
			return err
		}

		args, err := method.Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return err
		}

		s.method, s.args = method.Name, args
	}

	b.sent = append(b.sent, s)
	b.nonce++

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	if b.onSend != nil {
		receipt = b.onSend(s)
	}

	receipt.TxHash = tx.Hash()
	receipt.BlockNumber = big.NewInt(int64(b.nonce))
	b.receipts[tx.Hash()] = receipt
	b.txs[tx.Hash()] = tx

	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}

	return nil, ethereum.NotFound
}

func (b *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tx, ok := b.txs[hash]; ok {
		return tx, false, nil
	}

	return nil, false, ethereum.NotFound
}

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.query = q
	b.logs = ch

	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit

		return nil
	}), nil
}

func (b *fakeBackend) sentTxs() []sentTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]sentTx(nil), b.sent...)
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

// channelCreatedLog builds the factory log announcing ev.
func channelCreatedLog(ev api.ChannelCreatedEvent) *types.Log {
	created := gateway.ChannelFactoryABI.Events["channelCreated"]

	data, err := created.Inputs.NonIndexed().Pack(
		ev.ChannelAddress,
		ev.Duration,
		ev.Token,
		ev.Amount,
		ev.Price,
		ev.Timestamp,
	)
	if err != nil {
		panic(err)
	}

	return &types.Log{
		Address: apitest.Factory,
		Topics: []common.Hash{
			created.ID,
			common.BigToHash(ev.ChannelID),
			common.BytesToHash(ev.Sender.Bytes()),
			common.BytesToHash(ev.Recipient.Bytes()),
		},
		Data: data,
	}
}
