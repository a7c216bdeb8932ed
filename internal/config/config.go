package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

type ModelConfig struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContextSize int    `json:"context_size"`
}

// EngineConfig groups everything the prioritization engine needs: model
// endpoints, vector store, and the tunables the pipeline reads at runtime.
type EngineConfig struct {
	GeneratorModel   ModelConfig `json:"generator_model"`
	EvaluatorModel   ModelConfig `json:"evaluator_model"`
	InterpreterModel ModelConfig `json:"interpreter_model"`
	EmbeddingModel   struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"embedding_model"`
	Qdrant struct {
		URL        string `json:"url"`
		Collection string `json:"collection"`
		APIKey     string `json:"api_key"`
	} `json:"qdrant"`
	// The draft pipeline threshold (0.70) and the post-insertion fallback
	// threshold (0.80) intentionally differ; both stay configurable.
	CoverageThreshold         float64 `json:"coverage_threshold"`
	CoverageFallbackThreshold float64 `json:"coverage_fallback_threshold"`
	UseUnifiedPrioritization  *bool   `json:"use_unified_prioritization"`
}

type Config struct {
	Server struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Subpath   string `json:"subpath"`
		JWTSecret string `json:"jwtSecret"`
	} `json:"server"`
	Postgres struct {
		DSN string `json:"dsn"`
	} `json:"postgres"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Engine EngineConfig `json:"engine"`

	// EncryptionKey is 32 bytes hex-encoded, used for OAuth token storage.
	EncryptionKey string `json:"encryption_key"`

	NodeEnv       string `json:"node_env"` // development, test, production
	DefaultUserID string `json:"default_user_id"`

	// TestMode zeroes retry backoff delays. It must be set explicitly; it is
	// never inferred from NodeEnv so production can never run with zero delays.
	TestMode bool `json:"test_mode"`
}

var (
	once   sync.Once
	cfg    *Config
	cfgErr error
)

// LoadConfig reads config.json from disk (singleton)
func LoadConfig(path string) (*Config, error) {
	once.Do(func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			cfgErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		var c Config
		if err := json.Unmarshal(raw, &c); err != nil {
			cfgErr = fmt.Errorf("invalid config format: %w", err)
			return
		}
		if err := validate(&c); err != nil {
			cfgErr = err
			return
		}
		applyDefaults(&c)
		cfg = &c
	})
	return cfg, cfgErr
}

func validate(c *Config) error {
	if c.Server.JWTSecret == "" {
		return errors.New("jwtSecret must be set in config")
	}
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption_key is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}
	switch c.NodeEnv {
	case "", "development", "test", "production":
	default:
		return fmt.Errorf("unknown node_env %q", c.NodeEnv)
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.NodeEnv == "" {
		c.NodeEnv = "development"
	}
	if c.Engine.CoverageThreshold == 0 {
		c.Engine.CoverageThreshold = 0.70
	}
	if c.Engine.CoverageFallbackThreshold == 0 {
		c.Engine.CoverageFallbackThreshold = 0.80
	}
	if c.Engine.UseUnifiedPrioritization == nil {
		t := true
		c.Engine.UseUnifiedPrioritization = &t
	}
}

// EncryptionKeyBytes returns the decoded 32-byte key, or nil if unset.
func (c *Config) EncryptionKeyBytes() []byte {
	if c.EncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}

// GetConfig returns the loaded config (must call LoadConfig first)
func GetConfig() *Config {
	return cfg
}

// ResetConfigForTest resets the singleton state (for testing only)
func ResetConfigForTest() {
	once = sync.Once{}
	cfg = nil
	cfgErr = nil
}
