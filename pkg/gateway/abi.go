package gateway

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultCFAForwarder is the Superfluid CFAv1Forwarder, deployed at the
// same address on every network Superfluid supports.
var DefaultCFAForwarder = common.HexToAddress("0xcfA132E353cB4E398080B9700609bb008eceB125")

const channelFactoryABI = `[
	{"type":"function","name":"createChannel","stateMutability":"nonpayable","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"duration","type":"uint256"},
		{"name":"tokenAddress","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"register","stateMutability":"nonpayable","inputs":[
		{"name":"price","type":"uint256"}
	],"outputs":[]},
	{"type":"event","name":"channelCreated","anonymous":false,"inputs":[
		{"name":"channelId","type":"uint256","indexed":true},
		{"name":"channelAddress","type":"address","indexed":false},
		{"name":"sender","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"duration","type":"uint256","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	]}
]`

const paymentChannelABI = `[
	{"type":"function","name":"balance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"channelId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"claimTimeout","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"close","stateMutability":"nonpayable","inputs":[
		{"name":"totalAmount","type":"uint256"},
		{"name":"nonce","type":"uint256"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"expiration","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"extend","stateMutability":"nonpayable","inputs":[{"name":"newExpiration","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"recipient","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"sender","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]}
]`

const cfaForwarderABI = `[
	{"type":"function","name":"getFlowInfo","stateMutability":"view","inputs":[
		{"name":"token","type":"address"},
		{"name":"sender","type":"address"},
		{"name":"receiver","type":"address"}
	],"outputs":[
		{"name":"lastUpdated","type":"uint256"},
		{"name":"flowrate","type":"int96"},
		{"name":"deposit","type":"uint256"},
		{"name":"owedDeposit","type":"uint256"}
	]}
]`

// The FlowUpdated event is emitted by the constant flow agreement
// contract, not by the forwarder.
const cfaABI = `[
	{"type":"event","name":"FlowUpdated","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"receiver","type":"address","indexed":true},
		{"name":"flowRate","type":"int96","indexed":false},
		{"name":"totalSenderFlowRate","type":"int256","indexed":false},
		{"name":"totalReceiverFlowRate","type":"int256","indexed":false},
		{"name":"userData","type":"bytes","indexed":false}
	]}
]`

var (
	ChannelFactoryABI = mustParseABI(channelFactoryABI)
	PaymentChannelABI = mustParseABI(paymentChannelABI)
	ERC20ABI          = mustParseABI(erc20ABI)
	CFAForwarderABI   = mustParseABI(cfaForwarderABI)
	CFAABI            = mustParseABI(cfaABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}

	return parsed
}
