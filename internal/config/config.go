// Package config provides configuration management for chatctx.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/tidwall/sjson"
)

const appName = "chatctx"

// Provider IDs.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Summarizer strategies.
const (
	SummarizerConcat = "concat"
	SummarizerModel  = "model"
)

// ProviderConfig holds the settings of one completion provider.
//
//nolint:govet // Field order is intentional for JSON readability.
type ProviderConfig struct {
	ExtraHeaders      map[string]string `json:"extra_headers,omitempty"`
	Temperature       *float64          `json:"temperature,omitempty"`
	ID                string            `json:"id,omitempty"`
	Type              catwalk.Type      `json:"type,omitempty"`
	BaseURL           string            `json:"base_url,omitempty"`
	APIKey            string            `json:"api_key,omitempty"`
	Model             string            `json:"model,omitempty"`
	TokenLimit        int               `json:"token_limit,omitempty"`
	SummaryTrigger    int               `json:"summary_trigger,omitempty"`
	MaxOutputTokens   int64             `json:"max_output_tokens,omitempty"`
	RequestsPerMinute int               `json:"requests_per_minute,omitempty"`
}

// SessionOptions controls session retention and compaction.
type SessionOptions struct {
	TTLSeconds         int    `json:"ttl_seconds,omitempty"`
	MaxHistoryMessages int    `json:"max_history_messages,omitempty"`
	KeyPrefix          string `json:"key_prefix,omitempty"`
	Summarizer         string `json:"summarizer,omitempty"`
}

// StoreOptions selects and configures the session store backend.
type StoreOptions struct {
	Backend  string `json:"backend,omitempty"`
	RedisURL string `json:"redis_url,omitempty"`
}

// Options holds process-level settings.
//
//nolint:govet // Field order is intentional for JSON readability.
type Options struct {
	DataDir               string `json:"data_directory,omitempty"`
	Addr                  string `json:"addr,omitempty"`
	MaxRetries            *int   `json:"max_retries,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`
	EventBuffer           int    `json:"event_buffer,omitempty"`
	Debug                 bool   `json:"debug,omitempty"`
}

// Config is the top-level configuration structure. It is built once at
// process start and passed explicitly to the components that need it.
type Config struct {
	Provider  string                     `json:"provider"`
	Providers map[string]*ProviderConfig `json:"providers"`
	Session   *SessionOptions            `json:"session,omitempty"`
	Store     *StoreOptions              `json:"store,omitempty"`
	Options   *Options                   `json:"options,omitempty"`
}

// NewConfig creates a new Config with initialized maps.
func NewConfig() *Config {
	return &Config{
		Providers: make(map[string]*ProviderConfig),
		Session:   &SessionOptions{},
		Store:     &StoreOptions{},
		Options:   &Options{},
	}
}

// ActiveProvider returns the configuration of the selected provider.
func (c *Config) ActiveProvider() (*ProviderConfig, error) {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", c.Provider)
	}
	return p, nil
}

// SessionTTL returns the sliding session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// RequestTimeout returns the bound applied to each completion call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Options.RequestTimeoutSeconds) * time.Second
}

// Retries returns how many times a failed completion is retried. An
// explicit 0 disables retries.
func (c *Config) Retries() int {
	if c.Options.MaxRetries == nil {
		return defaultMaxRetries
	}
	return max(*c.Options.MaxRetries, 0)
}

// SetConfigFieldAt updates a single field in the config file at path. Only
// the specified field is modified; the file is created if missing.
func SetConfigFieldAt(path, key string, value any) error {
	//nolint:gosec // G304: path is a trusted config location.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = []byte("{}")
		} else {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	newData, err := sjson.Set(string(data), key, value)
	if err != nil {
		return fmt.Errorf("setting config field %q: %w", key, err)
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	//nolint:gosec // 0o600 is intentionally restrictive, the file holds API keys.
	if err := os.WriteFile(path, []byte(newData), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
