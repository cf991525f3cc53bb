package apitest

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/selesy/x402-gate/pkg/api"
)

// Fixture addresses used across packages.
var (
	ChannelAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	Recipient      = common.HexToAddress("0x60ac86571E55F9735F00cE9e28361d203977B260")
	Token          = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	Factory        = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

// Now is a fixed clock reading: 2001-02-03T04:05:06Z.
var Now = time.Unix(981173106, 0).UTC()

// NowFunc returns Now.
func NowFunc() time.Time {
	return Now
}

// ChannelCreated returns a ChannelCreated event for a channel opened by
// Address at Now, lasting one day, funded with 1,000,000 base units and
// priced at 1,000 base units per request.
func ChannelCreated() api.ChannelCreatedEvent {
	return api.ChannelCreatedEvent{
		ChannelID:      big.NewInt(7),
		ChannelAddress: ChannelAddress,
		Sender:         common.HexToAddress(Address),
		Recipient:      Recipient,
		Duration:       big.NewInt(86400),
		Token:          Token,
		Amount:         big.NewInt(1_000_000),
		Price:          big.NewInt(1_000),
		Timestamp:      big.NewInt(Now.Unix()),
	}
}

// ChannelState returns the initial state of the ChannelCreated channel.
func ChannelState() api.ChannelState {
	return ChannelCreated().State()
}
