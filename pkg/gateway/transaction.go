package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transfer is a decoded ERC-20 Transfer log.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Transaction is a mined transaction as seen by payment verification.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Status      uint64
	BlockNumber uint64
	BlockTime   time.Time
	Transfers   []Transfer
}

// GetTransaction returns the mined transaction with the given hash.  A
// transaction that is unknown or still pending yields ErrNotFound.
func (g *Gateway) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var receipt *types.Receipt

	if err := g.read(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		r, err := g.backend.TransactionReceipt(ctx, hash)
		receipt = r

		return err
	}); err != nil {
		return nil, err
	}

	var (
		tx      *types.Transaction
		pending bool
	)

	if err := g.read(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		t, p, err := g.backend.TransactionByHash(ctx, hash)
		tx, pending = t, p

		return err
	}); err != nil {
		return nil, err
	}

	if pending || receipt.BlockNumber == nil {
		return nil, fmt.Errorf("%w: %s is pending", ErrNotFound, hash)
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", hash, err)
	}

	var header *types.Header

	if err := g.read(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := g.backend.HeaderByNumber(ctx, receipt.BlockNumber)
		header = h

		return err
	}); err != nil {
		return nil, err
	}

	return &Transaction{
		Hash:        hash,
		From:        from,
		To:          tx.To(),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		BlockTime:   time.Unix(int64(header.Time), 0).UTC(),
		Transfers:   transfers(receipt.Logs),
	}, nil
}

func transfers(logs []*types.Log) []Transfer {
	id := ERC20ABI.Events["Transfer"].ID

	var out []Transfer

	for _, log := range logs {
		if len(log.Topics) != 3 || log.Topics[0] != id {
			continue
		}

		vals, err := ERC20ABI.Unpack("Transfer", log.Data)
		if err != nil || len(vals) != 1 {
			continue
		}

		value, ok := vals[0].(*big.Int)
		if !ok {
			continue
		}

		out = append(out, Transfer{
			Token: log.Address,
			From:  common.BytesToAddress(log.Topics[1].Bytes()),
			To:    common.BytesToAddress(log.Topics[2].Bytes()),
			Value: value,
		})
	}

	return out
}
