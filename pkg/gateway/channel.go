package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
)

// CreateChannelParams describes a channel to open through the factory.
// The gateway's signer becomes the channel's sender.
type CreateChannelParams struct {
	Recipient common.Address
	Duration  time.Duration
	Token     common.Address
	Amount    *big.Int
}

// ChannelInfo is the on-chain view of a payment channel contract.
// Balance is the amount of Token currently held by the contract.
type ChannelInfo struct {
	Address    common.Address
	ChannelID  *big.Int
	Sender     common.Address
	Recipient  common.Address
	Token      common.Address
	Expiration uint64
	Price      *big.Int
	Balance    *big.Int
}

type channelCreatedLog struct {
	ChannelId      *big.Int
	ChannelAddress common.Address
	Sender         common.Address
	Recipient      common.Address
	Duration       *big.Int
	TokenAddress   common.Address
	Amount         *big.Int
	Price          *big.Int
	Timestamp      *big.Int
}

// CreateChannel approves the factory to spend params.Amount of
// params.Token, opens the channel and returns the factory's
// channelCreated event.
func (g *Gateway) CreateChannel(ctx context.Context, params CreateChannelParams) (*api.ChannelCreatedEvent, error) {
	if g.signer == nil {
		return nil, ErrNoSigner
	}

	if g.factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: no channel factory address", ErrInvalidOption)
	}

	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", api.ErrInvalidNumber)
	}

	if params.Duration < time.Second {
		return nil, fmt.Errorf("%w: duration must be at least one second", api.ErrInvalidNumber)
	}

	if _, err := g.send(ctx, ERC20ABI, params.Token, "approve", g.factory, params.Amount); err != nil {
		return nil, err
	}

	duration := big.NewInt(int64(params.Duration / time.Second))

	receipt, err := g.send(ctx, ChannelFactoryABI, g.factory, "createChannel",
		params.Recipient, duration, params.Token, params.Amount)
	if err != nil {
		return nil, err
	}

	ev, err := g.channelCreated(receipt)
	if err != nil {
		return nil, err
	}

	g.log.Info("Payment channel created",
		observability.Channel(ev.ChannelID.String()),
		slog.String("address", ev.ChannelAddress.Hex()),
		slog.String("amount", ev.Amount.String()),
		slog.String("price", ev.Price.String()),
	)

	return ev, nil
}

func (g *Gateway) channelCreated(receipt *types.Receipt) (*api.ChannelCreatedEvent, error) {
	id := ChannelFactoryABI.Events["channelCreated"].ID
	factory := bind.NewBoundContract(g.factory, ChannelFactoryABI, g.backend, g.backend, g.backend)

	for _, log := range receipt.Logs {
		if log.Address != g.factory || len(log.Topics) == 0 || log.Topics[0] != id {
			continue
		}

		var out channelCreatedLog
		if err := factory.UnpackLog(&out, "channelCreated", *log); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEventNotFound, err)
		}

		return &api.ChannelCreatedEvent{
			ChannelID:      out.ChannelId,
			ChannelAddress: out.ChannelAddress,
			Sender:         out.Sender,
			Recipient:      out.Recipient,
			Duration:       out.Duration,
			Token:          out.TokenAddress,
			Amount:         out.Amount,
			Price:          out.Price,
			Timestamp:      out.Timestamp,
		}, nil
	}

	return nil, fmt.Errorf("%w: channelCreated in %s", ErrEventNotFound, receipt.TxHash)
}

// Register records the signer as a service provider charging price per
// request for channels opened through the factory.
func (g *Gateway) Register(ctx context.Context, price *big.Int) (*types.Receipt, error) {
	if g.factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: no channel factory address", ErrInvalidOption)
	}

	return g.send(ctx, ChannelFactoryABI, g.factory, "register", price)
}

// CloseChannel settles channel with the sender's signature over its last
// accepted state.  It must be sent by the recipient.
func (g *Gateway) CloseChannel(ctx context.Context, channel common.Address, total *big.Int, nonce uint64, signature []byte) (*types.Receipt, error) {
	return g.send(ctx, PaymentChannelABI, channel, "close", total, new(big.Int).SetUint64(nonce), signature)
}

// Deposit approves channel to pull amount of its token, then adds it to
// the channel's balance.
func (g *Gateway) Deposit(ctx context.Context, channel common.Address, amount *big.Int) (*types.Receipt, error) {
	if g.signer == nil {
		return nil, ErrNoSigner
	}

	token, err := g.callAddress(ctx, PaymentChannelABI, channel, "token")
	if err != nil {
		return nil, err
	}

	if _, err := g.send(ctx, ERC20ABI, token, "approve", channel, amount); err != nil {
		return nil, err
	}

	return g.send(ctx, PaymentChannelABI, channel, "deposit", amount)
}

// Extend moves the channel's expiration to the given time.
func (g *Gateway) Extend(ctx context.Context, channel common.Address, expiration time.Time) (*types.Receipt, error) {
	return g.send(ctx, PaymentChannelABI, channel, "extend", big.NewInt(expiration.Unix()))
}

// ClaimTimeout returns the channel's remaining balance to the sender
// once it has expired.
func (g *Gateway) ClaimTimeout(ctx context.Context, channel common.Address) (*types.Receipt, error) {
	return g.send(ctx, PaymentChannelABI, channel, "claimTimeout")
}

// GetBalance returns the amount of token held by the channel contract.
func (g *Gateway) GetBalance(ctx context.Context, channel common.Address) (*big.Int, error) {
	return g.callBig(ctx, PaymentChannelABI, channel, "getBalance")
}

// TokenBalance returns owner's balance of the ERC-20 token.
func (g *Gateway) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return g.callBig(ctx, ERC20ABI, token, "balanceOf", owner)
}

// Channel reads the parameters and current balance of the channel
// contract at addr.
func (g *Gateway) Channel(ctx context.Context, addr common.Address) (*ChannelInfo, error) {
	info := &ChannelInfo{Address: addr}

	var err error

	if info.ChannelID, err = g.callBig(ctx, PaymentChannelABI, addr, "channelId"); err != nil {
		return nil, err
	}

	if info.Sender, err = g.callAddress(ctx, PaymentChannelABI, addr, "sender"); err != nil {
		return nil, err
	}

	if info.Recipient, err = g.callAddress(ctx, PaymentChannelABI, addr, "recipient"); err != nil {
		return nil, err
	}

	if info.Token, err = g.callAddress(ctx, PaymentChannelABI, addr, "token"); err != nil {
		return nil, err
	}

	expiration, err := g.callBig(ctx, PaymentChannelABI, addr, "expiration")
	if err != nil {
		return nil, err
	}

	if !expiration.IsUint64() {
		return nil, fmt.Errorf("%w: expiration overflows uint64", api.ErrInvalidNumber)
	}

	info.Expiration = expiration.Uint64()

	if info.Price, err = g.callBig(ctx, PaymentChannelABI, addr, "price"); err != nil {
		return nil, err
	}

	if info.Balance, err = g.GetBalance(ctx, addr); err != nil {
		return nil, err
	}

	return info, nil
}
