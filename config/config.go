// Package config loads and validates facilitator configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/paygate-protocol/paygate"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("caip2", validateNetworkTag)
}

// ChainConfig describes one blockchain backend the facilitator settles on.
type ChainConfig struct {
	Network paygate.Network `json:"network" validate:"required,caip2"`
	RPCURL  string          `json:"rpcUrl" validate:"required,url"`

	// PrivateKey is the hex-encoded settlement key for networks where the
	// facilitator submits transactions itself.
	PrivateKey string `json:"privateKey,omitempty"`

	// Confirmations is how many blocks the settler waits for before
	// reporting confirmed finality.
	Confirmations uint64 `json:"confirmations,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

// Config is the top-level facilitator configuration.
type Config struct {
	ListenAddr string `json:"listenAddr" validate:"required,hostname_port"`
	LogLevel   string `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// SettlementWindow bounds how long a settlement may run after the
	// client disconnects. Zero means the engine default.
	SettlementWindow time.Duration `json:"settlementWindow,omitempty"`

	// CacheTTL bounds how long completed settlements stay deduplicable.
	CacheTTL time.Duration `json:"cacheTtl,omitempty"`

	// StrictConfirm makes gates release only on confirmed finality.
	StrictConfirm bool `json:"strictConfirm,omitempty"`

	EnableMetrics bool `json:"enableMetrics,omitempty"`

	Chains []ChainConfig `json:"chains" validate:"required,min=1,dive"`
}

// Parse unmarshals and validates a JSON configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads and parses a JSON configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SettlementWindow == 0 {
		c.SettlementWindow = paygate.DefaultSettlementWindow
	}
	for i := range c.Chains {
		if c.Chains[i].Timeout == 0 {
			c.Chains[i].Timeout = 30 * time.Second
		}
	}
}

// Chain returns the configuration for the given network, if present.
func (c *Config) Chain(network paygate.Network) (*ChainConfig, bool) {
	for i := range c.Chains {
		if c.Chains[i].Network.Match(network) {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

func validateNetworkTag(fl validator.FieldLevel) bool {
	return paygate.Network(fl.Field().String()).Validate() == nil
}
