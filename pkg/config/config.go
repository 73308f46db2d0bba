// Package config loads Anvil's node configuration into a Config struct:
// Default() values, overridden by a YAML file, overridden in turn by the
// cobra flags cmd/anvild binds. Environment variables are not read.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of process-wide settings a node is constructed
// from. Every manager receives the fields it needs explicitly rather than
// reading a package-level global.
type Config struct {
	Region string `yaml:"region"`

	GlobalDataDir   string `yaml:"global_data_dir"`
	RegionalDataDir string `yaml:"regional_data_dir"`
	ShardStoreRoot  string `yaml:"shard_store_root"`

	ClusterSecret            string `yaml:"cluster_secret"`
	JWTSecret                string `yaml:"jwt_secret"`
	SecretEncryptionKeyHex   string `yaml:"anvil_secret_encryption_key"`

	ClusterListenAddr string   `yaml:"cluster_listen_addr"`
	ShardRPCAddr      string   `yaml:"shard_rpc_addr"`
	PublicAPIAddr     string   `yaml:"public_api_addr"`
	APIListenAddr     string   `yaml:"api_listen_addr"`
	BootstrapAddrs    []string `yaml:"bootstrap_addrs"`
	InitCluster       bool     `yaml:"init_cluster"`
	EnableMDNS        bool     `yaml:"enable_mdns"`

	CodecDataShards   int `yaml:"codec_data_shards"`
	CodecParityShards int `yaml:"codec_parity_shards"`
	StripeShardSize   int `yaml:"stripe_shard_size"`

	TaskPollIntervalSeconds int `yaml:"task_poll_interval_seconds"`
	TaskMaxAttempts         int `yaml:"task_max_attempts"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		Region:                  "default",
		GlobalDataDir:           "./data/global",
		RegionalDataDir:         "./data/regional",
		ShardStoreRoot:          "./data/shards",
		ClusterListenAddr:       "0.0.0.0:7946",
		ShardRPCAddr:            "0.0.0.0:7947",
		PublicAPIAddr:           "0.0.0.0:9000",
		APIListenAddr:           "0.0.0.0:9090",
		CodecDataShards:         4,
		CodecParityShards:       2,
		StripeShardSize:         65536,
		TaskPollIntervalSeconds: 5,
		TaskMaxAttempts:         10,
		LogLevel:                "info",
		LogJSON:                 true,
	}
}

// LoadFile merges a YAML config file on top of Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// EncryptionKey decodes SecretEncryptionKeyHex into the 32-byte key used by
// the Shard Codec's AEAD layer and by ingestion-key encryption.
func (c *Config) EncryptionKey() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(c.SecretEncryptionKeyHex)
	if err != nil {
		return key, fmt.Errorf("anvil_secret_encryption_key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("anvil_secret_encryption_key must decode to 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.SecretEncryptionKeyHex == "" {
		return fmt.Errorf("anvil_secret_encryption_key is required")
	}
	if _, err := c.EncryptionKey(); err != nil {
		return err
	}
	if c.CodecDataShards <= 0 || c.CodecParityShards < 0 {
		return fmt.Errorf("invalid codec shard counts: K=%d M=%d", c.CodecDataShards, c.CodecParityShards)
	}
	return nil
}
