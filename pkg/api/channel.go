package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// ChannelState is one payment channel's off-chain view.  Balance is the
// cumulative amount paid to the recipient before the next request and
// Nonce is the nonce that request must be signed with.
//
// On the wire, every numeric field is a decimal string.
type ChannelState struct {
	Address    common.Address
	Sender     common.Address
	Recipient  common.Address
	Balance    *big.Int
	Nonce      uint64
	Expiration uint64
	ChannelID  *big.Int
}

type channelStateJSON struct {
	Address    common.Address  `json:"address"`
	Sender     common.Address  `json:"sender"`
	Recipient  common.Address  `json:"recipient"`
	Balance    json.RawMessage `json:"balance"`
	Nonce      json.RawMessage `json:"nonce"`
	Expiration json.RawMessage `json:"expiration"`
	ChannelID  json.RawMessage `json:"channel_id"`
}

// ID returns the decimal string form of the channel identifier, which is
// the key used by channel state stores.
func (s ChannelState) ID() string {
	if s.ChannelID == nil {
		return "0"
	}

	return s.ChannelID.String()
}

// Clone returns a deep copy of s.
func (s ChannelState) Clone() ChannelState {
	out := s
	out.Balance = bigOrZero(s.Balance)
	out.ChannelID = bigOrZero(s.ChannelID)

	return out
}

// Next returns the state that follows s once a request costing amount
// has been accepted.
func (s ChannelState) Next(amount *big.Int) ChannelState {
	out := s.Clone()
	out.Nonce++
	out.Balance.Add(out.Balance, bigOrZero(amount))

	return out
}

// Equal reports whether s and o describe the same channel at the same
// point in its nonce/balance progression.
func (s ChannelState) Equal(o ChannelState) bool {
	return s.Address == o.Address &&
		s.Sender == o.Sender &&
		s.Recipient == o.Recipient &&
		s.Nonce == o.Nonce &&
		s.Expiration == o.Expiration &&
		bigOrZero(s.Balance).Cmp(bigOrZero(o.Balance)) == 0 &&
		bigOrZero(s.ChannelID).Cmp(bigOrZero(o.ChannelID)) == 0
}

// MarshalJSON implements json.Marshaler.
func (s ChannelState) MarshalJSON() ([]byte, error) {
	quote := func(v string) json.RawMessage {
		return json.RawMessage(`"` + v + `"`)
	}

	return json.Marshal(channelStateJSON{
		Address:    s.Address,
		Sender:     s.Sender,
		Recipient:  s.Recipient,
		Balance:    quote(bigOrZero(s.Balance).String()),
		Nonce:      quote(new(big.Int).SetUint64(s.Nonce).String()),
		Expiration: quote(new(big.Int).SetUint64(s.Expiration).String()),
		ChannelID:  quote(bigOrZero(s.ChannelID).String()),
	})
}

// UnmarshalJSON implements json.Unmarshaler.  Numbers may be decimal or
// 0x-prefixed hexadecimal strings, or bare JSON numbers.
func (s *ChannelState) UnmarshalJSON(data []byte) error {
	var raw channelStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	balance, err := parseUint256("balance", raw.Balance)
	if err != nil {
		return err
	}

	channelID, err := parseUint256("channel_id", raw.ChannelID)
	if err != nil {
		return err
	}

	nonce, err := parseUint64("nonce", raw.Nonce)
	if err != nil {
		return err
	}

	expiration, err := parseUint64("expiration", raw.Expiration)
	if err != nil {
		return err
	}

	*s = ChannelState{
		Address:    raw.Address,
		Sender:     raw.Sender,
		Recipient:  raw.Recipient,
		Balance:    balance,
		Nonce:      nonce,
		Expiration: expiration,
		ChannelID:  channelID,
	}

	return nil
}

// ChannelCreatedEvent is the decoded ChannelCreated log emitted by the
// channel factory.
type ChannelCreatedEvent struct {
	ChannelID      *big.Int
	ChannelAddress common.Address
	Sender         common.Address
	Recipient      common.Address
	Duration       *big.Int
	Token          common.Address
	Amount         *big.Int
	Price          *big.Int
	Timestamp      *big.Int
}

// Expiration returns the unix time at which the channel stops accepting
// payments.
func (e ChannelCreatedEvent) Expiration() uint64 {
	return new(big.Int).Add(bigOrZero(e.Timestamp), bigOrZero(e.Duration)).Uint64()
}

// State returns the initial off-chain state of the created channel.
func (e ChannelCreatedEvent) State() ChannelState {
	return ChannelState{
		Address:    e.ChannelAddress,
		Sender:     e.Sender,
		Recipient:  e.Recipient,
		Balance:    new(big.Int),
		Nonce:      0,
		Expiration: e.Expiration(),
		ChannelID:  bigOrZero(e.ChannelID),
	}
}

func parseUint256(name string, raw json.RawMessage) (*big.Int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
	}

	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s: %q", ErrInvalidNumber, name, s)
	}

	return v, nil
}

func parseUint64(name string, raw json.RawMessage) (uint64, error) {
	v, err := parseUint256(name, raw)
	if err != nil {
		return 0, err
	}

	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows uint64", ErrInvalidNumber, name)
	}

	return v.Uint64(), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(v)
}
