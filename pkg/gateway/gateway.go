// Package gateway reads and writes the on-chain state behind x402
// payments: the payment channel factory and its channels, ERC-20 token
// transfers, and Superfluid token streams.
//
// Reads are bounded by a per-call timeout and retried with exponential
// backoff.  A read that still fails is reported as ErrRPCUnavailable so
// that callers can tell an unreachable node apart from a rejected
// payment.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client used by the Gateway.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Gateway is safe for concurrent use.
type Gateway struct {
	config

	backend Backend
	closer  func()

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRPCUnavailable, err)
	}

	g, err := New(client, opts...)
	if err != nil {
		client.Close()

		return nil, err
	}

	g.closer = client.Close

	return g, nil
}

// New returns a Gateway that uses backend for every call.
func New(backend Backend, opts ...Option) (*Gateway, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:  *cfg,
		backend: backend,
	}, nil
}

// Close releases the connection opened by Dial.
func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

// ChainID returns the chain id of the backend.  It is fetched once.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chainID != nil {
		return new(big.Int).Set(g.chainID), nil
	}

	var id *big.Int

	if err := g.read(ctx, "eth_chainId", func(ctx context.Context) error {
		v, err := g.backend.ChainID(ctx)
		id = v

		return err
	}); err != nil {
		return nil, err
	}

	g.chainID = id

	return new(big.Int).Set(id), nil
}

// read runs fn with a bounded context, retrying failures with
// exponential backoff.  ethereum.NotFound is never retried.
func (g *Gateway) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retryInterval

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := fn(ctx)
		if errors.Is(err, ethereum.NotFound) {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, op))
		}

		if err != nil {
			g.log.Debug("RPC call failed", slog.String("operation", op), slog.String("error", err.Error()))
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, g.retries), ctx))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	default:
		g.log.Error("RPC unavailable", slog.String("operation", op), slog.String("error", err.Error()))

		return fmt.Errorf("%w: %s: %w", ErrRPCUnavailable, op, err)
	}
}

// call executes a read-only contract method and returns its unpacked
// outputs.
func (g *Gateway) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	var output []byte

	if err := g.read(ctx, method, func(ctx context.Context) error {
		out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		output = out

		return err
	}); err != nil {
		return nil, err
	}

	if len(output) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data from %s", ErrNotFound, method, to)
	}

	out, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s from %s: %w", ErrInvalidContract, method, to, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no outputs", ErrNotFound, method)
	}

	return out, nil
}

func (g *Gateway) callBig(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := g.call(ctx, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}

	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *Gateway) callAddress(ctx context.Context, parsed abi.ABI, to common.Address, method string) (common.Address, error) {
	out, err := g.call(ctx, parsed, to, method)
	if err != nil {
		return common.Address{}, err
	}

	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (g *Gateway) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if g.signer == nil {
		return nil, ErrNoSigner
	}

	chainID, err := g.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	from := g.signer.Address()
	txSigner := types.LatestSignerForChainID(chainID)

	return &bind.TransactOpts{
		From:     from,
		Context:  ctx,
		GasPrice: g.gasPrice,
		GasLimit: g.gasLimit,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}

			sig, err := g.signer.Sign(txSigner.Hash(tx).Bytes())
			if err != nil {
				return nil, err
			}

			if len(sig) == crypto.SignatureLength && sig[crypto.RecoveryIDOffset] >= 27 {
				sig = append([]byte(nil), sig...)
				sig[crypto.RecoveryIDOffset] -= 27
			}

			return tx.WithSignature(txSigner, sig)
		},
	}, nil
}

// send signs and sends a transaction calling method on the contract at
// to, then waits for it to be mined.  Writes are never retried.
func (g *Gateway) send(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (*types.Receipt, error) {
	opts, err := g.transactOpts(ctx)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts.Context = sendCtx

	contract := bind.NewBoundContract(to, parsed, g.backend, g.backend, g.backend)

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	g.log.Debug("Transaction sent",
		slog.String("method", method),
		slog.String("to", to.Hex()),
		slog.String("tx", tx.Hash().Hex()),
	)

	mineCtx, cancel := context.WithTimeout(ctx, g.mineTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(mineCtx, g.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrRPCUnavailable, tx.Hash(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrTransactionReverted, method, tx.Hash())
	}

	g.log.Info("Transaction mined",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gas", receipt.GasUsed),
	)

	return receipt, nil
}
