package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygate-protocol/paygate"
	"github.com/paygate-protocol/paygate/http"
	"github.com/paygate-protocol/paygate/ledger"
	"github.com/paygate-protocol/paygate/logger"
	"github.com/paygate-protocol/paygate/mechanisms/evm"
	"github.com/paygate-protocol/paygate/mechanisms/svm"
	"github.com/paygate-protocol/paygate/metrics"
)

// NewEngine assembles a settlement engine from the configuration, with one
// mechanism registered per configured chain.
func NewEngine(cfg *Config, store ledger.Store) (*paygate.SettlementEngine, error) {
	return buildEngine(cfg, store, logger.NewZapLogger(cfg.LogLevel), newRecorder(cfg))
}

// NewGate assembles a payment gate on top of an engine built from the
// configuration. The engine and gate share the logger, recorder, and ledger.
func NewGate(cfg *Config, store ledger.Store) (*http.Gate, error) {
	log := logger.NewZapLogger(cfg.LogLevel)
	rec := newRecorder(cfg)

	engine, err := buildEngine(cfg, store, log, rec)
	if err != nil {
		return nil, err
	}

	opts := []http.GateOption{
		http.WithGateLogger(log),
		http.WithGateMetrics(rec),
	}
	if store != nil {
		opts = append(opts, http.WithLedger(store))
	}
	if cfg.StrictConfirm {
		opts = append(opts, http.WithStrictConfirm())
	}
	return http.NewGate(engine, opts...), nil
}

func buildEngine(cfg *Config, store ledger.Store, log logger.Logger, rec metrics.Recorder) (*paygate.SettlementEngine, error) {
	f := paygate.NewFacilitator()
	for i := range cfg.Chains {
		m, err := buildMechanism(&cfg.Chains[i])
		if err != nil {
			return nil, err
		}
		if err := f.Register(m); err != nil {
			return nil, err
		}
	}

	opts := []paygate.EngineOption{
		paygate.WithLogger(log),
		paygate.WithMetrics(rec),
	}
	if cfg.SettlementWindow > 0 {
		opts = append(opts, paygate.WithSettlementWindow(cfg.SettlementWindow))
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, paygate.WithCacheTTL(cfg.CacheTTL))
	}
	if store != nil {
		opts = append(opts, paygate.WithQueryLedger(store))
	}
	return paygate.NewSettlementEngine(f, opts...), nil
}

func buildMechanism(chain *ChainConfig) (paygate.Mechanism, error) {
	switch chain.Network.Namespace() {
	case "eip155":
		if chain.PrivateKey == "" {
			return nil, fmt.Errorf("chain %s requires a settlement private key", chain.Network)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(chain.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key for %s: %w", chain.Network, err)
		}
		chainID, err := evm.ChainID(chain.Network)
		if err != nil {
			return nil, err
		}
		backend, err := evm.NewRPCBackend(chain.RPCURL, key, chainID)
		if err != nil {
			return nil, err
		}
		var opts []evm.Option
		if chain.Confirmations > 1 {
			opts = append(opts, evm.WithConfirmations(chain.Confirmations))
		}
		return evm.NewMechanism(chain.Network, backend, opts...)

	case "solana":
		return svm.NewMechanism(chain.Network, svm.NewRPCBackend(chain.RPCURL))

	default:
		return nil, fmt.Errorf("no mechanism for namespace %q", chain.Network.Namespace())
	}
}

func newRecorder(cfg *Config) metrics.Recorder {
	if cfg.EnableMetrics {
		return metrics.NewPrometheusRecorder(nil)
	}
	return metrics.NoopRecorder{}
}
