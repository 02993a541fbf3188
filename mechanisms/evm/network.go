package evm

import (
	"fmt"
	"math/big"

	"github.com/paygate-protocol/paygate"
)

// ChainID extracts the numeric chain id from an eip155 CAIP-2 identifier.
func ChainID(network paygate.Network) (*big.Int, error) {
	if network.Namespace() != "eip155" {
		return nil, fmt.Errorf("not an eip155 network: %s", network)
	}
	id, ok := new(big.Int).SetString(network.Reference(), 10)
	if !ok {
		return nil, fmt.Errorf("invalid eip155 chain id: %s", network.Reference())
	}
	return id, nil
}

// AssetInfo carries the EIP-712 domain parameters of a known token.
type AssetInfo struct {
	Address string
	Name    string
	Version string
}

// knownAssets maps network to lowercased token address for tokens whose
// EIP-712 domain is known ahead of time. Requirements may override name and
// version through their Extra field for tokens not listed here.
var knownAssets = map[paygate.Network]map[string]AssetInfo{
	"eip155:8453": {
		"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {
			Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:    "USD Coin",
			Version: "2",
		},
	},
	"eip155:84532": {
		"0x036cbd53842c5426634e7929541ec2318f3dcf7e": {
			Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:    "USDC",
			Version: "2",
		},
	},
	"eip155:1": {
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {
			Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Name:    "USD Coin",
			Version: "2",
		},
	},
}

// LookupAsset resolves the EIP-712 domain parameters for a token. Unknown
// tokens get empty name and version, which callers fill from the
// requirements' Extra field.
func LookupAsset(network paygate.Network, address string) AssetInfo {
	if byAddr, ok := knownAssets[network]; ok {
		if info, ok := byAddr[normalizeAddress(address)]; ok {
			return info
		}
	}
	return AssetInfo{Address: address}
}

func normalizeAddress(addr string) string {
	b, err := HexToBytes(addr)
	if err != nil || len(b) != 20 {
		return addr
	}
	return BytesToHex(b)
}
