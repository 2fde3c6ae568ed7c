// Package config loads kbchat configuration from defaults, an optional .env
// file, and KBCHAT_* environment variables (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Retrieval RetrievalConfig
	Vocab     VocabConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the management endpoints (ingest, feedback, stats).
	// When empty, those endpoints are disabled.
	APIToken string
}

type OllamaConfig struct {
	BaseURL         string
	EmbedModel      string
	GenModel        string
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

type RetrievalConfig struct {
	TopK               int
	RelevanceThreshold float64
	MaxContextChars    int
}

type VocabConfig struct {
	TTL time.Duration
}

type CacheConfig struct {
	ResponseTTL time.Duration
	MaxEntries  int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:         "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			GenModel:        "llama3.2",
			EmbedTimeout:    10 * time.Second,
			GenerateTimeout: 30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:               5,
			RelevanceThreshold: 0.05,
			MaxContextChars:    8000,
		},
		Vocab: VocabConfig{
			TTL: 5 * time.Minute,
		},
		Cache: CacheConfig{
			ResponseTTL: time.Hour,
			MaxEntries:  1000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kbchat"
	}
	return filepath.Join(home, ".kbchat")
}

// Load reads configuration from defaults, a .env file in the working
// directory (if present), and KBCHAT_* environment variables. Environment
// variables always win.
func Load() (Config, error) {
	// Missing .env is the normal case; only real env matters then.
	godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if err := applyEnv(getenv, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK <= 0 {
		return Config{}, fmt.Errorf("retrieval top-k must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.RelevanceThreshold <= 0 || cfg.Retrieval.RelevanceThreshold >= 1 {
		return Config{}, fmt.Errorf("relevance threshold must be in (0,1), got %g", cfg.Retrieval.RelevanceThreshold)
	}

	return cfg, nil
}

func applyEnv(getenv func(string) string, cfg *Config) error {
	setString(getenv, "KBCHAT_OLLAMA_BASE_URL", &cfg.Ollama.BaseURL)
	setString(getenv, "KBCHAT_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	setString(getenv, "KBCHAT_GEN_MODEL", &cfg.Ollama.GenModel)
	setString(getenv, "KBCHAT_API_TOKEN", &cfg.Server.APIToken)
	setString(getenv, "KBCHAT_DATA_DIR", &cfg.Storage.DataDir)
	setString(getenv, "KBCHAT_LOG_LEVEL", &cfg.Log.Level)

	if err := setInt(getenv, "KBCHAT_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := setInt(getenv, "KBCHAT_TOP_K", &cfg.Retrieval.TopK); err != nil {
		return err
	}
	if err := setInt(getenv, "KBCHAT_MAX_CONTEXT_CHARS", &cfg.Retrieval.MaxContextChars); err != nil {
		return err
	}
	if err := setInt(getenv, "KBCHAT_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries); err != nil {
		return err
	}
	if err := setFloat(getenv, "KBCHAT_RELEVANCE_THRESHOLD", &cfg.Retrieval.RelevanceThreshold); err != nil {
		return err
	}
	if err := setDuration(getenv, "KBCHAT_EMBED_TIMEOUT", &cfg.Ollama.EmbedTimeout); err != nil {
		return err
	}
	if err := setDuration(getenv, "KBCHAT_GENERATE_TIMEOUT", &cfg.Ollama.GenerateTimeout); err != nil {
		return err
	}
	if err := setDuration(getenv, "KBCHAT_VOCAB_TTL", &cfg.Vocab.TTL); err != nil {
		return err
	}
	if err := setDuration(getenv, "KBCHAT_CACHE_TTL", &cfg.Cache.ResponseTTL); err != nil {
		return err
	}
	return nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setFloat(getenv func(string) string, key string, dst *float64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func setDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}
