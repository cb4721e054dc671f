// Package config loads the service configuration from YAML with environment
// overrides. The loaded Config is immutable: constructors receive it by value
// or as a read-only pointer and never write back.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all portablebrain configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Device       DeviceConfig       `yaml:"device"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Memory       MemoryConfig       `yaml:"memory"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Retriever    RetrieverConfig    `yaml:"retriever"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestTimeout string `yaml:"request_timeout"`
	// HealthCheckLLM gates the LLM ping inside GET /health; it costs a
	// billable call, so it is off by default.
	HealthCheckLLM bool `yaml:"health_check_llm"`
}

// DeviceConfig configures the DroidRun portal adapter.
type DeviceConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"`
	// CommandTimeout is the default timeout_seconds sent with /execute.
	CommandTimeout string `yaml:"command_timeout"`
}

// LLMConfig configures the generation model.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// MaxToolTurns bounds one tool-call conversation.
	MaxToolTurns int `yaml:"max_tool_turns"`
	// StructuredRetries bounds re-asks after a malformed structured reply.
	StructuredRetries int `yaml:"structured_retries"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "genai" or "ollama"
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// MemoryConfig configures the SQLite store.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// TrackerConfig configures the background observation tracker.
type TrackerConfig struct {
	PollInterval string `yaml:"poll_interval"`
	// ContextSize is how many buffered snapshots trigger one inference.
	ContextSize int `yaml:"context_size"`
	// PersistStructured gates the structured-store write during rotation.
	PersistStructured *bool `yaml:"persist_structured"`
}

// RetrieverConfig configures the memory retriever caches.
type RetrieverConfig struct {
	SemanticCacheThreshold float64 `yaml:"semantic_cache_threshold"`
}

// OrchestratorConfig configures the retrieve/execute loop.
type OrchestratorConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() *Config {
	persist := true
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			RequestTimeout: "300s",
		},
		Device: DeviceConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: "30s",
			CommandTimeout: "120s",
		},
		LLM: LLMConfig{
			Model:             "gemini-2.5-flash",
			MaxToolTurns:      5,
			StructuredRetries: 2,
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
		},
		Memory: MemoryConfig{
			DatabasePath: "data/portablebrain.db",
		},
		Tracker: TrackerConfig{
			PollInterval:      "1s",
			ContextSize:       10,
			PersistStructured: &persist,
		},
		Retriever: RetrieverConfig{
			SemanticCacheThreshold: 0.70,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path, applies PB_ environment overrides, and validates. A
// missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PB_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PB_DEVICE_URL"); v != "" {
		c.Device.BaseURL = v
	}
	if v := os.Getenv("PB_DATABASE_PATH"); v != "" {
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("PB_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	// GEMINI_API_KEY feeds both the generation and embedding clients
	// unless more specific keys are set.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("PB_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("PB_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}
	switch c.Embedding.Provider {
	case "genai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding API key not configured (set GEMINI_API_KEY or embedding.api_key)")
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid embedding provider: %s (use 'genai' or 'ollama')", c.Embedding.Provider)
	}
	if c.GetPollInterval() <= 0 {
		return fmt.Errorf("tracker poll_interval must be > 0")
	}
	if c.Tracker.ContextSize <= 0 {
		return fmt.Errorf("tracker context_size must be > 0")
	}
	if c.Retriever.SemanticCacheThreshold < -1 || c.Retriever.SemanticCacheThreshold > 1 {
		return fmt.Errorf("retriever semantic_cache_threshold %.2f outside [-1,1]", c.Retriever.SemanticCacheThreshold)
	}
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator max_iterations must be >= 1")
	}
	return nil
}

// PersistStructured reports whether rotation writes the structured row.
func (c *Config) PersistStructured() bool {
	if c.Tracker.PersistStructured == nil {
		return true
	}
	return *c.Tracker.PersistStructured
}

// GetPollInterval returns the tracker poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Tracker.PollInterval, time.Second)
}

// GetRequestTimeout returns the HTTP request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 300*time.Second)
}

// GetDeviceTimeout returns the device transport timeout as a duration.
func (c *Config) GetDeviceTimeout() time.Duration {
	return parseDuration(c.Device.RequestTimeout, 30*time.Second)
}

// GetCommandTimeout returns the default device command timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Device.CommandTimeout, 120*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
