// Package config holds the root, process-lifetime configuration for the
// memory, runtime, and council services.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the embedded NATS bus and HTTP status surface ports.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" json:"http_port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// MemoryConfig points at the tiered memory engine's store.
type MemoryConfig struct {
	DBPath            string `yaml:"db_path" json:"db_path"`
	EmbeddingEndpoint string `yaml:"embedding_endpoint" json:"embedding_endpoint"`
}

// WorkerSpec maps a relay agent type onto the CLI command that serves it.
type WorkerSpec struct {
	AgentType string   `yaml:"agent_type" json:"agent_type"`
	Binary    string   `yaml:"binary" json:"binary"`
	Args      []string `yaml:"args" json:"args"`
	WorkDir   string   `yaml:"work_dir" json:"work_dir"`
}

// RuntimeConfig points at the agent runtime's store and the worker
// commands its relay pipelines hand batons to.
type RuntimeConfig struct {
	DBPath  string       `yaml:"db_path" json:"db_path"`
	Workers []WorkerSpec `yaml:"workers" json:"workers"`
}

// CouncilConfig is the YAML-configurable subset of the council's
// environment-derived settings (the rest, e.g. per-provider timeouts, stay
// environment-only and are read by council.LoadConfig).
type CouncilConfig struct {
	DataDir       string   `yaml:"data_dir" json:"data_dir"`
	CouncilModels []string `yaml:"council_models" json:"council_models"`
	ChairmanModel string   `yaml:"chairman_model" json:"chairman_model"`
}

// Config is the root configuration for the agent fleet runtime substrate.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
	Council CouncilConfig `yaml:"council" json:"council"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Server: ServerConfig{
			HTTPPort: 8080,
			NATSPort: 4222,
		},
		Memory: MemoryConfig{
			DBPath: filepath.Join(home, ".claude", "enhanced_memory_oss", "memory.db"),
		},
		Runtime: RuntimeConfig{
			DBPath: filepath.Join(home, ".claude", "agent_runtime_oss", "runtime.db"),
		},
		Council: CouncilConfig{
			DataDir:       filepath.Join(home, ".llm-council"),
			CouncilModels: []string{"claude", "codex", "gemini"},
			ChairmanModel: "codex",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to
// DefaultConfig for any field the file leaves zero-valued.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.Server.NATSPort)
	}
	if c.Memory.DBPath == "" {
		return fmt.Errorf("memory db path is required")
	}
	if c.Runtime.DBPath == "" {
		return fmt.Errorf("runtime db path is required")
	}
	if c.Council.DataDir == "" {
		return fmt.Errorf("council data dir is required")
	}
	if len(c.Council.CouncilModels) == 0 {
		return fmt.Errorf("at least one council model is required")
	}
	return nil
}
