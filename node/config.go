package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/specularl2/specular-node/rollup"
)

type MetricsConfig struct {
	Enabled  bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	ListenPort int    `toml:"listen_port"`
}

type SequencerConfig struct {
	Enabled bool `toml:"enabled"`
	// PrivateKey is the hex-encoded ECDSA key signing oracle updates.
	PrivateKey string `toml:"private_key"`
}

// Config is the full node configuration: the rollup parameters plus the
// endpoints and roles of this process.
type Config struct {
	Rollup rollup.Config `toml:"rollup"`

	L1RpcURL    string `toml:"l1_rpc_url"`
	L2RpcURL    string `toml:"l2_rpc_url"`
	L2EngineURL string `toml:"l2_engine_url"`

	// L1PollIntervalSeconds is how often the watcher looks for a new L1 head.
	L1PollIntervalSeconds uint64 `toml:"l1_poll_interval"`

	Sequencer SequencerConfig `toml:"sequencer"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

func (cfg *Config) L1PollInterval() time.Duration {
	if cfg.L1PollIntervalSeconds == 0 {
		return 6 * time.Second
	}
	return time.Duration(cfg.L1PollIntervalSeconds) * time.Second
}

func (cfg *Config) Check() error {
	if cfg.L1RpcURL == "" {
		return errors.New("missing L1 RPC URL")
	}
	if cfg.L2RpcURL == "" {
		return errors.New("missing L2 RPC URL")
	}
	if cfg.L2EngineURL == "" {
		return errors.New("missing L2 engine URL")
	}
	if cfg.Sequencer.Enabled && cfg.Sequencer.PrivateKey == "" {
		return errors.New("sequencer enabled without a private key")
	}
	if err := cfg.Rollup.Check(); err != nil {
		return fmt.Errorf("invalid rollup config: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %w", path, err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
