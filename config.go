package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Home returns the state directory: $RELAY_HOME when set, otherwise
// ~/.relay. It holds the env file, the config directory and the
// default database.
func Home() string {
	if v := os.Getenv("RELAY_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay")
}

// EnvPath returns the credentials file written by the init command.
func EnvPath() string { return filepath.Join(Home(), "env") }

// DefaultDBPath returns the SQLite file used when database_path is not
// configured.
func DefaultDBPath() string { return filepath.Join(Home(), "relay.db") }

// DefaultConfigDir returns the directory LoadConfig reads by default.
func DefaultConfigDir() string { return filepath.Join(Home(), "config") }

// EnsureHome creates the home and config directories.
func EnsureHome() error {
	return os.MkdirAll(DefaultConfigDir(), 0o755)
}

// Backend type identifiers used in backends.yaml.
const (
	BackendTypeGroq        = "groq"
	BackendTypeOllamaLocal = "ollama_local"
	BackendTypeOllamaCloud = "ollama_cloud"
)

// BotConfig is the bot-wide configuration from config.yaml.
type BotConfig struct {
	// BotName is used in greetings and the dashboard title.
	BotName string `yaml:"bot_name"`

	// MaxContextMessages bounds the rolling conversation window kept
	// per user.
	MaxContextMessages int `yaml:"max_context_messages"`

	// ListenAddr is the dashboard bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DatabasePath is the SQLite file. Empty means <home>/relay.db.
	DatabasePath string `yaml:"database_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// BackendConfig is one entry in backends.yaml.
type BackendConfig struct {
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`

	// Priority orders backends for routing; lower is tried first.
	Priority int `yaml:"priority"`

	// Host overrides the backend's default endpoint.
	Host string `yaml:"host,omitempty"`

	// Model is the initial active model.
	Model string `yaml:"model,omitempty"`

	// Models is the allowed model list, where the backend does not
	// discover it.
	Models []string `yaml:"models,omitempty"`

	// Zero means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// PermissionsConfig is permissions.yaml.
type PermissionsConfig struct {
	// AllowUnknownUsers admits users absent from both lists as guests.
	AllowUnknownUsers bool `yaml:"allow_unknown_users"`

	Admins []int64 `yaml:"admins"`
	Users  []int64 `yaml:"users"`
}

// Secrets holds credentials, sourced from the environment only.
type Secrets struct {
	TelegramToken  string
	GroqAPIKey     string
	OllamaCloudURL string
	OllamaAPIKey   string
}

// SecretsFromEnv reads credentials from the process environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		GroqAPIKey:     os.Getenv("GROQ_API_KEY"),
		OllamaCloudURL: os.Getenv("OLLAMA_CLOUD_URL"),
		OllamaAPIKey:   os.Getenv("OLLAMA_API_KEY"),
	}
}

// Config is the merged view of the config directory.
type Config struct {
	Bot         BotConfig
	Backends    map[string]BackendConfig
	Permissions PermissionsConfig

	dir string
}

// DefaultConfig returns the configuration used when the directory has no
// files: Groq plus a local Ollama instance, open to unknown users.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			BotName:            "relay",
			MaxContextMessages: 20,
			ListenAddr:         ":8090",
			LogLevel:           "info",
		},
		Backends: map[string]BackendConfig{
			"groq": {
				Type:              BackendTypeGroq,
				Enabled:           true,
				Priority:          1,
				RequestsPerMinute: 30,
				TokensPerMinute:   6000,
			},
			"ollama_local": {
				Type:     BackendTypeOllamaLocal,
				Enabled:  true,
				Priority: 2,
			},
		},
		Permissions: PermissionsConfig{AllowUnknownUsers: true},
	}
}

// backendsFile is the top-level shape of backends.yaml.
type backendsFile struct {
	Backends map[string]BackendConfig `yaml:"backends"`
}

// LoadConfig reads config.yaml, backends.yaml and permissions.yaml from
// dir. Missing files fall back to defaults; a malformed file is an error.
func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.dir = dir

	if err := loadYAML(filepath.Join(dir, "config.yaml"), &cfg.Bot); err != nil {
		return nil, err
	}

	var bf backendsFile
	if err := loadYAML(filepath.Join(dir, "backends.yaml"), &bf); err != nil {
		return nil, err
	}
	if bf.Backends != nil {
		cfg.Backends = bf.Backends
	}

	if err := loadYAML(filepath.Join(dir, "permissions.yaml"), &cfg.Permissions); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadYAML unmarshals one file into out, treating a missing file as a
// no-op.
func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Reload re-reads backends.yaml and permissions.yaml. Bot settings are
// fixed for the process lifetime.
func (c *Config) Reload() error {
	if c.dir == "" {
		return errors.New("config was not loaded from a directory")
	}

	var bf backendsFile
	if err := loadYAML(filepath.Join(c.dir, "backends.yaml"), &bf); err != nil {
		return err
	}
	if bf.Backends != nil {
		c.Backends = bf.Backends
	}

	perms := c.Permissions
	if err := loadYAML(filepath.Join(c.dir, "permissions.yaml"), &perms); err != nil {
		return err
	}
	c.Permissions = perms
	return nil
}

// Validate reports every problem in the configuration, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Bot.MaxContextMessages < 0 {
		errs = append(errs, errors.New("max_context_messages must not be negative"))
	}
	switch c.Bot.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.Bot.LogLevel))
	}

	enabled := 0
	for name, b := range c.Backends {
		switch b.Type {
		case BackendTypeGroq, BackendTypeOllamaLocal, BackendTypeOllamaCloud:
			// Backend names are fixed per type; quota limits and routing
			// are keyed by the same name the backend reports.
			if name != b.Type {
				errs = append(errs, fmt.Errorf("backend %q: name must match type %q", name, b.Type))
			}
		default:
			errs = append(errs, fmt.Errorf("backend %q: unknown type %q", name, b.Type))
		}
		if b.RequestsPerMinute < 0 || b.TokensPerMinute < 0 {
			errs = append(errs, fmt.Errorf("backend %q: negative rate limit", name))
		}
		if b.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("no backend is enabled"))
	}

	return errors.Join(errs...)
}

// PriorityOrder returns the enabled backend names sorted by configured
// priority, name as tiebreak.
func (c *Config) PriorityOrder() []string {
	var names []string
	for name, b := range c.Backends {
		if b.Enabled {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := c.Backends[names[i]].Priority, c.Backends[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// RateLimits returns the per-backend limits for the quota tracker,
// covering enabled backends only.
func (c *Config) RateLimits() map[string]RateLimitConfig {
	out := make(map[string]RateLimitConfig)
	for name, b := range c.Backends {
		if !b.Enabled {
			continue
		}
		out[name] = RateLimitConfig{
			RequestsPerMinute: b.RequestsPerMinute,
			TokensPerMinute:   b.TokensPerMinute,
		}
	}
	return out
}
