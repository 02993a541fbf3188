package config

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygate-protocol/paygate"
	"github.com/paygate-protocol/paygate/ledger"
)

func settlementKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func buildConfig(t *testing.T) *Config {
	t.Helper()
	raw := fmt.Sprintf(`{
		"listenAddr": "0.0.0.0:8402",
		"strictConfirm": true,
		"chains": [
			{
				"network": "eip155:8453",
				"rpcUrl": "https://mainnet.base.org",
				"privateKey": "%s",
				"confirmations": 3
			},
			{
				"network": "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
				"rpcUrl": "https://api.mainnet-beta.solana.com"
			}
		]
	}`, settlementKeyHex(t))
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func TestNewEngineRegistersConfiguredChains(t *testing.T) {
	cfg := buildConfig(t)

	engine, err := NewEngine(cfg, ledger.NewMemoryStore())
	require.NoError(t, err)

	var networks []paygate.Network
	for _, kind := range engine.Supported() {
		networks = append(networks, kind.Network)
	}
	assert.Contains(t, networks, paygate.Network("eip155:8453"))
	assert.Contains(t, networks, paygate.Network("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"))
}

func TestNewGateFromConfig(t *testing.T) {
	cfg := buildConfig(t)

	gate, err := NewGate(cfg, ledger.NewMemoryStore())
	require.NoError(t, err)
	assert.NotNil(t, gate)
}

func TestNewEngineRequiresSettlementKey(t *testing.T) {
	cfg := buildConfig(t)
	cfg.Chains[0].PrivateKey = ""

	_, err := NewEngine(cfg, nil)
	assert.Error(t, err)
}
