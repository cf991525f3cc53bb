package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Stream is an open Superfluid constant flow from Sender to Receiver.
// FlowRate is in token base units per second.
type Stream struct {
	Token       common.Address
	Sender      common.Address
	Receiver    common.Address
	FlowRate    *big.Int
	LastUpdated time.Time
	Deposit     *big.Int
	OwedDeposit *big.Int
}

// FlowUpdate is a decoded FlowUpdated log.
type FlowUpdate struct {
	Token    common.Address
	Sender   common.Address
	Receiver common.Address
	FlowRate *big.Int
	Raw      types.Log
}

// GetStream returns the flow of token from sender to receiver, or nil
// when there is none.
func (g *Gateway) GetStream(ctx context.Context, token, sender, receiver common.Address) (*Stream, error) {
	out, err := g.call(ctx, CFAForwarderABI, g.forwarder, "getFlowInfo", token, sender, receiver)
	if err != nil {
		return nil, err
	}

	if len(out) != 4 {
		return nil, fmt.Errorf("getFlowInfo returned %d values", len(out))
	}

	rate, ok := out[1].(*big.Int)
	if !ok || rate.Sign() <= 0 {
		return nil, nil
	}

	lastUpdated, _ := out[0].(*big.Int)
	deposit, _ := out[2].(*big.Int)
	owed, _ := out[3].(*big.Int)

	stream := &Stream{
		Token:       token,
		Sender:      sender,
		Receiver:    receiver,
		FlowRate:    rate,
		Deposit:     deposit,
		OwedDeposit: owed,
	}

	if lastUpdated != nil && lastUpdated.IsInt64() {
		stream.LastUpdated = time.Unix(lastUpdated.Int64(), 0).UTC()
	}

	return stream, nil
}

// WatchFlowUpdates delivers every FlowUpdated log for flows of token to
// receiver into sink until the subscription is closed.
func (g *Gateway) WatchFlowUpdates(ctx context.Context, token, receiver common.Address, sink chan<- *FlowUpdate) (event.Subscription, error) {
	if g.cfa == (common.Address{}) {
		return nil, fmt.Errorf("%w: no constant flow agreement address", ErrInvalidOption)
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{g.cfa},
		Topics: [][]common.Hash{
			{CFAABI.Events["FlowUpdated"].ID},
			{common.BytesToHash(token.Bytes())},
			nil,
			{common.BytesToHash(receiver.Bytes())},
		},
	}

	logs := make(chan types.Log)

	sub, err := g.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe FlowUpdated: %w", ErrRPCUnavailable, err)
	}

	g.log.Debug("Watching flow updates",
		slog.String("token", token.Hex()),
		slog.String("receiver", receiver.Hex()),
	)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		for {
			select {
			case log := <-logs:
				update, err := decodeFlowUpdate(log)
				if err != nil {
					g.log.Warn("Ignoring malformed FlowUpdated log",
						slog.String("tx", log.TxHash.Hex()),
						slog.String("error", err.Error()),
					)

					continue
				}

				select {
				case sink <- update:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func decodeFlowUpdate(log types.Log) (*FlowUpdate, error) {
	if len(log.Topics) != 4 || log.Topics[0] != CFAABI.Events["FlowUpdated"].ID {
		return nil, fmt.Errorf("%w: FlowUpdated topics", ErrEventNotFound)
	}

	vals, err := CFAABI.Unpack("FlowUpdated", log.Data)
	if err != nil {
		return nil, err
	}

	rate, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected flow rate type %T", vals[0])
	}

	return &FlowUpdate{
		Token:    common.BytesToAddress(log.Topics[1].Bytes()),
		Sender:   common.BytesToAddress(log.Topics[2].Bytes()),
		Receiver: common.BytesToAddress(log.Topics[3].Bytes()),
		FlowRate: rate,
		Raw:      log,
	}, nil
}
