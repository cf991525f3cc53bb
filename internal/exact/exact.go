// Package exact describes the networks and ERC-3009 tokens that x402 v1
// "exact" payments can be made with.
package exact

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-3009 capable stablecoin.  Name and Version must be
// exactly what the contract uses for its EIP-712 domain.
type Token struct {
	Network  string
	Address  common.Address
	Name     string
	Version  string
	Decimals int32
}

var chainIDs = map[string]int64{
	"base":           8453,
	"base-sepolia":   84532,
	"avalanche":      43114,
	"avalanche-fuji": 43113,
}

var tokens = []Token{
	{Network: "base-sepolia", Address: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Name: "USDC", Version: "2", Decimals: 6},
	{Network: "base", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Name: "USD Coin", Version: "2", Decimals: 6},
	{Network: "avalanche-fuji", Address: common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"), Name: "USD Coin", Version: "2", Decimals: 6},
	{Network: "avalanche", Address: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"), Name: "USDC", Version: "2", Decimals: 6},
}

// ChainID returns the EVM chain id of a named x402 network.
func ChainID(network string) (*big.Int, bool) {
	id, ok := chainIDs[network]
	if !ok {
		return nil, false
	}

	return big.NewInt(id), true
}

// Network returns the x402 name of the network with the given chain id.
func Network(chainID *big.Int) (string, bool) {
	if chainID == nil || !chainID.IsInt64() {
		return "", false
	}

	for name, id := range chainIDs {
		if id == chainID.Int64() {
			return name, true
		}
	}

	return "", false
}

// LookupToken returns the well-known token deployed at asset on network.
func LookupToken(network string, asset common.Address) (Token, bool) {
	for _, tok := range tokens {
		if tok.Network == network && tok.Address == asset {
			return tok, true
		}
	}

	return Token{}, false
}
