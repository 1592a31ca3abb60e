package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EIP-1967 storage slots.
var (
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	AdminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
	BeaconSlot         = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")
)

// upgradeInterfaceV5 is UPGRADE_INTERFACE_VERSION of OpenZeppelin v5 proxies
// and ProxyAdmin. v4 contracts do not declare the constant.
const upgradeInterfaceV5 = "5.0.0"

const upgradeInterfaceABIJSON = `[{
	"inputs": [],
	"name": "UPGRADE_INTERFACE_VERSION",
	"outputs": [{"name": "", "type": "string"}],
	"stateMutability": "view",
	"type": "function"
}]`

// ProxyAdmin: upgradeAndCall in v5, upgrade in v4.
const proxyAdminABIJSON = `[{
	"inputs": [
		{"name": "proxy", "type": "address"},
		{"name": "implementation", "type": "address"},
		{"name": "data", "type": "bytes"}
	],
	"name": "upgradeAndCall",
	"outputs": [],
	"stateMutability": "payable",
	"type": "function"
}, {
	"inputs": [
		{"name": "proxy", "type": "address"},
		{"name": "implementation", "type": "address"}
	],
	"name": "upgrade",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// UUPS: upgradeToAndCall in v5, upgradeTo in v4.
const uupsABIJSON = `[{
	"inputs": [
		{"name": "newImplementation", "type": "address"},
		{"name": "data", "type": "bytes"}
	],
	"name": "upgradeToAndCall",
	"outputs": [],
	"stateMutability": "payable",
	"type": "function"
}, {
	"inputs": [{"name": "newImplementation", "type": "address"}],
	"name": "upgradeTo",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const beaconABIJSON = `[{
	"inputs": [],
	"name": "implementation",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [{"name": "newImplementation", "type": "address"}],
	"name": "upgradeTo",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const accessControlABIJSON = `[{
	"inputs": [],
	"name": %q,
	"outputs": [{"name": "", "type": "bytes32"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "account", "type": "address"}
	],
	"name": "grantRole",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "account", "type": "address"}
	],
	"name": "hasRole",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	upgradeInterfaceABI = mustParseABI(upgradeInterfaceABIJSON)
	proxyAdminABI       = mustParseABI(proxyAdminABIJSON)
	uupsABI             = mustParseABI(uupsABIJSON)
	beaconABI           = mustParseABI(beaconABIJSON)
)

// accessControlABI returns the AccessControl surface plus the named role
// constant accessor, e.g. FACTORY_ROLE().
func accessControlABI(accessor string) (abi.ABI, error) {
	if !isIdentifier(accessor) {
		return abi.ABI{}, fmt.Errorf("invalid role accessor %q", accessor)
	}
	parsed, err := abi.JSON(strings.NewReader(fmt.Sprintf(accessControlABIJSON, accessor)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse AccessControl ABI: %w", err)
	}
	return parsed, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
