package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Genesis    GenesisConfig    `yaml:"genesis" ignored:"true"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	Mode string `yaml:"mode"` // gin mode: debug, release or test
}

// StorageConfig selects the storage driver
type StorageConfig struct {
	Driver         string `yaml:"driver"` // pebble, memory or redis
	Path           string `yaml:"path"`
	RedisHost      string `yaml:"redis_host" split_words:"true"`
	RedisPort      int    `yaml:"redis_port" split_words:"true"`
	RedisNamespace string `yaml:"redis_namespace" split_words:"true"`
}

// LedgerConfig holds settings shared by every ledger
type LedgerConfig struct {
	RetainUnincluded bool   `yaml:"retain_unincluded" split_words:"true"`
	MinStake         string `yaml:"min_stake" split_words:"true"` // in tokens
}

// BridgeConfig holds bridge router settings
type BridgeConfig struct {
	Operator string `yaml:"operator"` // may cancel pending transfers
}

// CheckpointConfig controls how often state is persisted
type CheckpointConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// GenesisConfig describes the network deployed on an empty store
type GenesisConfig struct {
	Owner      string          `yaml:"owner"`
	Chains     []ChainSpec     `yaml:"chains"`
	Validators []ValidatorSpec `yaml:"validators"`
}

// ChainSpec describes one chain ledger
type ChainSpec struct {
	ID                    uint64 `yaml:"id"`
	Name                  string `yaml:"name"`
	Symbol                string `yaml:"symbol"`
	Supply                string `yaml:"supply"` // in tokens
	RequiredConfirmations uint32 `yaml:"required_confirmations"`
}

// ValidatorSpec describes one validator and the stake it posts on each chain
type ValidatorSpec struct {
	Address string `yaml:"address"`
	Stake   string `yaml:"stake"` // in tokens
}

// Default returns the configuration used when no file is given. Its genesis
// is the five-chain network with five validators.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
			Mode: "release",
		},
		Storage: StorageConfig{
			Driver:         "pebble",
			Path:           "./data/pebble",
			RedisHost:      "127.0.0.1",
			RedisPort:      6379,
			RedisNamespace: "chainbridge:",
		},
		Ledger: LedgerConfig{
			MinStake: "10",
		},
		Bridge: BridgeConfig{
			Operator: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		},
		Checkpoint: CheckpointConfig{
			Interval: 10 * time.Second,
		},
		Genesis: GenesisConfig{
			Owner: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Chains: []ChainSpec{
				{ID: 1, Name: "Ethereum", Symbol: "NODE1", Supply: "1000000", RequiredConfirmations: 3},
				{ID: 137, Name: "Polygon", Symbol: "NODE137", Supply: "1000000", RequiredConfirmations: 3},
				{ID: 56, Name: "BSC", Symbol: "NODE56", Supply: "1000000", RequiredConfirmations: 3},
				{ID: 42161, Name: "Arbitrum", Symbol: "NODE42161", Supply: "1000000", RequiredConfirmations: 3},
				{ID: 10, Name: "Optimism", Symbol: "NODE10", Supply: "1000000", RequiredConfirmations: 3},
			},
			Validators: []ValidatorSpec{
				{Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", Stake: "10"},
				{Address: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", Stake: "10"},
				{Address: "0x90F79bf6EB2c4f870365E785982E1f101E93b906", Stake: "10"},
				{Address: "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65", Stake: "10"},
				{Address: "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc", Stake: "10"},
			},
		},
	}
}

// Load loads configuration from a YAML file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config file")
			}
		}
	}

	// Override with environment variables (SERVER_PORT, STORAGE_DRIVER, ...)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("invalid server port %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return errors.Newf("unknown server mode %q", c.Server.Mode)
	}
	switch c.Storage.Driver {
	case "pebble", "memory", "redis":
	default:
		return errors.Newf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Checkpoint.Interval <= 0 {
		return errors.Newf("checkpoint interval must be positive, got %s", c.Checkpoint.Interval)
	}
	seen := make(map[uint64]bool)
	for _, ch := range c.Genesis.Chains {
		if seen[ch.ID] {
			return errors.Newf("chain %d listed twice in genesis", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}
