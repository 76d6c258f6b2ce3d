package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gochat/internal/metadata"
	"gochat/internal/models"
	"gochat/internal/provider"
)

const (
	defaultPort        = 8080
	defaultEndpoint    = "https://api.openai.com"
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultModelCache  = 8
	defaultMaxSessions = 256
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Chat     ChatConfig     `yaml:"chat"`
	Models   []ModelConfig  `yaml:"models"`
	Cache    CacheConfig    `yaml:"cache"`
	Sessions SessionsConfig `yaml:"sessions"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// APIConfig points at the OpenAI-compatible endpoint.
type APIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Headers  Headers       `yaml:"headers"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Headers contains additional HTTP headers to send with every upstream request.
type Headers map[string]string

// ChatConfig holds the completion defaults applied when a request leaves them unset.
type ChatConfig struct {
	DefaultModel string   `yaml:"default_model"`
	Temperature  *float64 `yaml:"temperature"`
	TopP         *float64 `yaml:"top_p"`
	Seed         *int     `yaml:"seed"`
}

// ModelConfig adds or overrides static metadata for one model.
type ModelConfig struct {
	ID              string `yaml:"id"`
	ContextWindow   int    `yaml:"context_window"`
	KnowledgeCutoff string `yaml:"knowledge_cutoff"`
	Images          bool   `yaml:"images"`
	Preferred       bool   `yaml:"preferred"`
	Deprecated      bool   `yaml:"deprecated"`
}

// CacheConfig bounds the model-list cache.
type CacheConfig struct {
	Models int `yaml:"models"`
}

// SessionsConfig bounds the number of live conversations.
type SessionsConfig struct {
	Max int `yaml:"max"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration usable without a file.
// OPENAI_API_KEY and OPENAI_BASE_URL are picked up from the environment.
func Default() Config {
	cfg := Config{
		API: APIConfig{
			Endpoint: os.Getenv("OPENAI_BASE_URL"),
			APIKey:   os.Getenv("OPENAI_API_KEY"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads YAML configuration from disk and validates the result.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if strings.TrimSpace(c.API.Endpoint) == "" {
		c.API.Endpoint = defaultEndpoint
	}
	c.API.Endpoint = strings.TrimRight(strings.TrimSpace(c.API.Endpoint), "/")
	if c.API.Timeout == 0 {
		c.API.Timeout = defaultTimeout
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = defaultModel
	}
	if c.Cache.Models == 0 {
		c.Cache.Models = defaultModelCache
	}
	if c.Sessions.Max == 0 {
		c.Sessions.Max = defaultMaxSessions
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.StaticDir != "" {
		info, err := os.Stat(c.Server.StaticDir)
		if err != nil {
			return fmt.Errorf("server.static_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("server.static_dir %q is not a directory", c.Server.StaticDir)
		}
	}

	if err := c.API.validate(); err != nil {
		return err
	}
	if err := c.Chat.validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("models: id must not be empty")
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("models: %q listed more than once", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.ContextWindow < 0 {
			return fmt.Errorf("models: %q context_window must not be negative", m.ID)
		}
	}

	if c.Cache.Models < 0 {
		return fmt.Errorf("cache.models must not be negative, got %d", c.Cache.Models)
	}
	if c.Sessions.Max < 0 {
		return fmt.Errorf("sessions.max must not be negative, got %d", c.Sessions.Max)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}

	return nil
}

func (a APIConfig) validate() error {
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("api.api_key must be provided")
	}
	if !strings.HasPrefix(a.Endpoint, "http://") && !strings.HasPrefix(a.Endpoint, "https://") {
		return fmt.Errorf("api.endpoint %q must be an http or https URL", a.Endpoint)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	for headerKey := range a.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("api: header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

func (c ChatConfig) validate() error {
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("chat.temperature must be between 0 and 2, got %v", *c.Temperature)
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("chat.top_p must be between 0 and 1, got %v", *c.TopP)
	}
	return nil
}

// Credentials returns the endpoint and key pair for the adapter.
func (c Config) Credentials() provider.Credentials {
	return provider.Credentials{Endpoint: c.API.Endpoint, APIKey: c.API.APIKey}
}

// Settings returns the configured completion defaults.
func (c Config) Settings() models.Settings {
	return models.Settings{
		Model:       c.Chat.DefaultModel,
		Temperature: c.Chat.Temperature,
		TopP:        c.Chat.TopP,
		Seed:        c.Chat.Seed,
	}
}

// Metadata returns the built-in model table with the configured overrides applied.
func (c Config) Metadata() metadata.Table {
	overrides := make(map[string]metadata.Entry, len(c.Models))
	for _, m := range c.Models {
		overrides[m.ID] = metadata.Entry{
			ContextWindow:   m.ContextWindow,
			KnowledgeCutoff: m.KnowledgeCutoff,
			Images:          m.Images,
			Preferred:       m.Preferred,
			Deprecated:      m.Deprecated,
		}
	}
	return metadata.Builtin().WithOverrides(overrides)
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
