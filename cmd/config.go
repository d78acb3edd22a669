package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the optional YAML config file's structure (§6
// "Configuration knobs"). Any field also settable by flag is overridden
// by an explicit flag value; the file exists for deployments that prefer
// a checked-in config over long flag lists, grounded on the teacher's
// defaults.yaml / Config loading in cmd/default_config.go.
type FileConfig struct {
	Strategy               string  `yaml:"strategy"`
	ProxyMode              bool    `yaml:"proxy_mode"`
	BlockSizeTokens        int     `yaml:"block_size_tokens"`
	BlockCapacity          int     `yaml:"block_capacity"`
	PrefillBaseMS          float64 `yaml:"prefill_base_ms"`
	PrefillPerBlockMS      float64 `yaml:"prefill_per_block_ms"`
	DecodePerTokenMS       float64 `yaml:"decode_per_token_ms"`
	HeartbeatPeriodSeconds float64 `yaml:"heartbeat_period_seconds"`
	SyncPeriodSeconds      float64 `yaml:"sync_period_seconds"`
	SpeculativeAddendMS    float64 `yaml:"speculative_addend_ms"`
	StaleWorkerSeconds     float64 `yaml:"stale_worker_seconds"`
	HashAlgo               string  `yaml:"hash_algo"`
}

// loadFileConfig parses path into a FileConfig using strict field
// checking, matching the teacher's loadDefaultsConfig convention. A
// missing path is not an error: an unset --config flag means "flags and
// defaults only".
func loadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cmd: read config file %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("cmd: parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func seconds(f float64, fallback time.Duration) time.Duration {
	if f <= 0 {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}
