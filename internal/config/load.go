package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/charmbracelet/catwalk/pkg/embedded"
)

const (
	configFileName = "chatctx.json"

	defaultGroqEndpoint   = "https://api.groq.com/openai/v1"
	defaultOpenAIEndpoint = "https://api.openai.com/v1"

	defaultGroqModel   = "llama3-70b-8192"
	defaultOpenAIModel = "gpt-4o-mini"

	defaultGroqTokenLimit     = 6000
	defaultOpenAITokenLimit   = 128000
	defaultGroqSummaryTrigger = 5000
	defaultOpenAISummary      = 110000

	defaultTTLSeconds         = 3600
	defaultMaxHistoryMessages = 50
	defaultKeyPrefix          = "aichat"
	defaultMaxRetries         = 3
	defaultRequestTimeout     = 60
	defaultRedisURL           = "redis://localhost:6379/0"
	defaultAddr               = ":8080"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load finds and loads configuration from standard locations.
// It merges the global config with a project config (project takes
// precedence), applies environment overrides and fills in defaults.
func Load() (*Config, error) {
	cfg := NewConfig()
	if err := loadFile(GlobalConfigPath(), cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading global config: %w", err)
	}

	if projectPath := findProjectConfig(); projectPath != "" {
		projectCfg := NewConfig()
		if err := loadFile(projectPath, projectCfg); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
		mergeConfig(cfg, projectCfg)
	}

	return finish(cfg, os.LookupEnv)
}

// LoadFromFile loads configuration from a specific file path, then applies
// the given environment lookup and defaults. A nil lookup skips the
// environment.
func LoadFromFile(path string, lookup LookupFunc) (*Config, error) {
	cfg := NewConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return finish(cfg, lookup)
}

func finish(cfg *Config, lookup LookupFunc) (*Config, error) {
	if lookup != nil {
		if err := applyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	//nolint:gosec // G304: Path is from trusted config locations, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		path := filepath.Join(dir, configFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		hiddenPath := filepath.Join(dir, "."+configFileName)
		if _, err := os.Stat(hiddenPath); err == nil {
			return hiddenPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func mergeConfig(dst, src *Config) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	for name := range src.Providers {
		dst.Providers[name] = src.Providers[name]
	}

	if src.Session != nil {
		s := src.Session
		if s.TTLSeconds != 0 {
			dst.Session.TTLSeconds = s.TTLSeconds
		}
		if s.MaxHistoryMessages != 0 {
			dst.Session.MaxHistoryMessages = s.MaxHistoryMessages
		}
		if s.KeyPrefix != "" {
			dst.Session.KeyPrefix = s.KeyPrefix
		}
		if s.Summarizer != "" {
			dst.Session.Summarizer = s.Summarizer
		}
	}

	if src.Store != nil {
		if src.Store.Backend != "" {
			dst.Store.Backend = src.Store.Backend
		}
		if src.Store.RedisURL != "" {
			dst.Store.RedisURL = src.Store.RedisURL
		}
	}

	if src.Options != nil {
		o := src.Options
		if o.DataDir != "" {
			dst.Options.DataDir = o.DataDir
		}
		if o.Addr != "" {
			dst.Options.Addr = o.Addr
		}
		if o.MaxRetries != nil {
			dst.Options.MaxRetries = o.MaxRetries
		}
		if o.RequestTimeoutSeconds != 0 {
			dst.Options.RequestTimeoutSeconds = o.RequestTimeoutSeconds
		}
		if o.EventBuffer != 0 {
			dst.Options.EventBuffer = o.EventBuffer
		}
		if o.Debug {
			dst.Options.Debug = true
		}
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	ensureSections(cfg)

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	var provider string
	str("AI_PROVIDER", &provider)
	if provider != "" {
		cfg.Provider = strings.ToLower(provider)
	}

	for _, id := range []string{ProviderGroq, ProviderOpenAI} {
		prefix := strings.ToUpper(id) + "_"
		p := providerEntry(cfg, id)
		str(prefix+"API_KEY", &p.APIKey)
		str(prefix+"BASE_URL", &p.BaseURL)
		str(prefix+"MODEL", &p.Model)
		if err := num(prefix+"TOKEN_LIMIT", &p.TokenLimit); err != nil {
			return err
		}
		if err := num(prefix+"SUMMARY_TRIGGER", &p.SummaryTrigger); err != nil {
			return err
		}
	}

	if err := num("REQUESTS_PER_MINUTE", &providerEntry(cfg, cfg.activeID()).RequestsPerMinute); err != nil {
		return err
	}
	if err := num("REDIS_TTL", &cfg.Session.TTLSeconds); err != nil {
		return err
	}
	if err := num("MAX_HISTORY_MESSAGES", &cfg.Session.MaxHistoryMessages); err != nil {
		return err
	}
	str("REDIS_PREFIX", &cfg.Session.KeyPrefix)
	str("CHATCTX_SUMMARIZER", &cfg.Session.Summarizer)

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("REDIS_URL", &cfg.Store.RedisURL)

	str("CHATCTX_DATA_DIR", &cfg.Options.DataDir)
	str("CHATCTX_ADDR", &cfg.Options.Addr)
	if v, ok := lookup("MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing MAX_RETRIES: %w", err)
		}
		cfg.Options.MaxRetries = &n
	}
	return num("REQUEST_TIMEOUT_SECONDS", &cfg.Options.RequestTimeoutSeconds)
}

func (c *Config) activeID() string {
	if c.Provider == "" {
		return ProviderGroq
	}
	return c.Provider
}

func ensureSections(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.Session == nil {
		cfg.Session = &SessionOptions{}
	}
	if cfg.Store == nil {
		cfg.Store = &StoreOptions{}
	}
	if cfg.Options == nil {
		cfg.Options = &Options{}
	}
}

func providerEntry(cfg *Config, id string) *ProviderConfig {
	p, ok := cfg.Providers[id]
	if !ok || p == nil {
		p = &ProviderConfig{}
		cfg.Providers[id] = p
	}
	return p
}

func applyDefaults(cfg *Config) {
	ensureSections(cfg)

	cfg.Provider = cfg.activeID()

	groq := providerEntry(cfg, ProviderGroq)
	fillProvider(groq, ProviderGroq, catwalk.TypeOpenAICompat, defaultGroqEndpoint,
		defaultGroqModel, defaultGroqTokenLimit, defaultGroqSummaryTrigger)

	openai := providerEntry(cfg, ProviderOpenAI)
	fillProvider(openai, ProviderOpenAI, catwalk.TypeOpenAI, defaultOpenAIEndpoint,
		defaultOpenAIModel, defaultOpenAITokenLimit, defaultOpenAISummary)

	if cfg.Session.TTLSeconds <= 0 {
		cfg.Session.TTLSeconds = defaultTTLSeconds
	}
	if cfg.Session.MaxHistoryMessages <= 0 {
		cfg.Session.MaxHistoryMessages = defaultMaxHistoryMessages
	}
	if cfg.Session.KeyPrefix == "" {
		cfg.Session.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Session.Summarizer == "" {
		cfg.Session.Summarizer = SummarizerConcat
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendSQLite
	}
	if cfg.Store.RedisURL == "" {
		cfg.Store.RedisURL = defaultRedisURL
	}

	if cfg.Options.DataDir == "" {
		cfg.Options.DataDir = filepath.Join(xdg.DataHome, appName)
	}
	if cfg.Options.Addr == "" {
		cfg.Options.Addr = defaultAddr
	}
	if cfg.Options.MaxRetries == nil {
		retries := defaultMaxRetries
		cfg.Options.MaxRetries = &retries
	} else if *cfg.Options.MaxRetries < 0 {
		retries := 0
		cfg.Options.MaxRetries = &retries
	}
	if cfg.Options.RequestTimeoutSeconds <= 0 {
		cfg.Options.RequestTimeoutSeconds = defaultRequestTimeout
	}
}

// fillProvider completes a provider entry. The token limit falls back to
// the model's context window from the catwalk catalog and then to the
// built-in default.
func fillProvider(p *ProviderConfig, id string, typ catwalk.Type, endpoint, model string, limit, trigger int) {
	if p.ID == "" {
		p.ID = id
	}
	if p.Type == "" {
		p.Type = typ
	}
	if p.BaseURL == "" {
		p.BaseURL = endpoint
	}
	if p.Model == "" {
		p.Model = model
	}
	if p.TokenLimit <= 0 {
		if window := ContextWindow(p.Model); window > 0 && p.Model != model {
			p.TokenLimit = window
		} else {
			p.TokenLimit = limit
		}
	}
	if p.SummaryTrigger <= 0 {
		p.SummaryTrigger = min(trigger, p.TokenLimit)
	}
}

func validate(cfg *Config) error {
	switch cfg.Provider {
	case ProviderGroq, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported AI provider: %q", cfg.Provider)
	}
	switch cfg.Store.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unsupported store backend: %q", cfg.Store.Backend)
	}
	switch cfg.Session.Summarizer {
	case SummarizerConcat, SummarizerModel:
	default:
		return fmt.Errorf("unsupported summarizer: %q", cfg.Session.Summarizer)
	}
	return nil
}

// ContextWindow returns the context window of a model from the embedded
// catwalk catalog, or 0 when the model is unknown.
func ContextWindow(model string) int {
	for _, p := range embedded.GetAll() {
		for i := range p.Models {
			if p.Models[i].ID == model {
				return int(p.Models[i].ContextWindow)
			}
		}
	}
	return 0
}

// GlobalConfigPath returns the path of the user-level config file.
func GlobalConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// DataDir returns the data directory path from configuration.
func (c *Config) DataDir() string {
	if c.Options != nil && c.Options.DataDir != "" {
		return c.Options.DataDir
	}
	return filepath.Join(xdg.DataHome, appName)
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir(), appName+".db")
}

// DebugLogPath returns the debug log location.
func (c *Config) DebugLogPath() string {
	return filepath.Join(c.DataDir(), "debug.log")
}
