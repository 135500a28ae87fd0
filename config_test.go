package relay

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", `
bot_name: testbot
max_context_messages: 10
listen_addr: ":9999"
log_level: debug
`)
	writeConfigFile(t, dir, "backends.yaml", `
backends:
  groq:
    type: groq
    enabled: true
    priority: 2
    requests_per_minute: 30
    tokens_per_minute: 6000
  ollama_local:
    type: ollama_local
    enabled: true
    priority: 1
  ollama_cloud:
    type: ollama_cloud
    enabled: false
    priority: 3
`)
	writeConfigFile(t, dir, "permissions.yaml", `
allow_unknown_users: false
admins: [100]
users: [200, 201]
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Bot.BotName != "testbot" || cfg.Bot.MaxContextMessages != 10 {
		t.Errorf("bot config = %+v", cfg.Bot)
	}
	if cfg.Permissions.AllowUnknownUsers {
		t.Error("allow_unknown_users should be false")
	}
	if !reflect.DeepEqual(cfg.Permissions.Admins, []int64{100}) {
		t.Errorf("admins = %v", cfg.Permissions.Admins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() on empty dir error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if len(cfg.Backends) == 0 {
		t.Error("default config has no backends")
	}
	if !cfg.Permissions.AllowUnknownUsers {
		t.Error("default config should allow unknown users")
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "backends.yaml", "backends: [not, a, map]")

	if _, err := LoadConfig(dir); err == nil {
		t.Error("expected error for malformed backends.yaml")
	}
}

func TestConfigPriorityOrder(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"groq":         {Type: BackendTypeGroq, Enabled: true, Priority: 2},
			"ollama_local": {Type: BackendTypeOllamaLocal, Enabled: true, Priority: 1},
			"ollama_cloud": {Type: BackendTypeOllamaCloud, Enabled: false, Priority: 0},
		},
	}

	want := []string{"ollama_local", "groq"}
	if got := cfg.PriorityOrder(); !reflect.DeepEqual(got, want) {
		t.Errorf("PriorityOrder() = %v, want %v", got, want)
	}
}

func TestConfigPriorityOrderTiebreak(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"groq":         {Type: BackendTypeGroq, Enabled: true, Priority: 1},
			"ollama_local": {Type: BackendTypeOllamaLocal, Enabled: true, Priority: 1},
		},
	}

	want := []string{"groq", "ollama_local"}
	if got := cfg.PriorityOrder(); !reflect.DeepEqual(got, want) {
		t.Errorf("PriorityOrder() = %v, want names sorted %v", got, want)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	cfg := &Config{
		Bot: BotConfig{LogLevel: "loud", MaxContextMessages: -1},
		Backends: map[string]BackendConfig{
			"weird": {Type: "teletype", Enabled: true},
			"groq":  {Type: BackendTypeGroq, Enabled: false, RequestsPerMinute: -5},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}

	for _, want := range []string{"log_level", "max_context_messages", "teletype", "negative rate limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestConfigValidateNameMatchesType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backends["fast"] = BackendConfig{Type: BackendTypeGroq, Enabled: true}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "name must match type") {
		t.Errorf("Validate() = %v, want name/type mismatch error", err)
	}
}

func TestConfigRateLimits(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"groq":         {Type: BackendTypeGroq, Enabled: true, RequestsPerMinute: 30, TokensPerMinute: 6000},
			"ollama_local": {Type: BackendTypeOllamaLocal, Enabled: true},
			"ollama_cloud": {Type: BackendTypeOllamaCloud, Enabled: false, RequestsPerMinute: 10},
		},
	}

	limits := cfg.RateLimits()
	if len(limits) != 2 {
		t.Fatalf("limits = %v, want enabled backends only", limits)
	}
	if limits["groq"] != (RateLimitConfig{RequestsPerMinute: 30, TokensPerMinute: 6000}) {
		t.Errorf("groq limits = %+v", limits["groq"])
	}
	if limits["ollama_local"] != (RateLimitConfig{}) {
		t.Errorf("ollama_local limits = %+v, want unlimited", limits["ollama_local"])
	}
}

func TestConfigReload(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "backends.yaml", `
backends:
  groq:
    type: groq
    enabled: true
    requests_per_minute: 10
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Backends["groq"].RequestsPerMinute != 10 {
		t.Fatalf("rpm = %d, want 10", cfg.Backends["groq"].RequestsPerMinute)
	}

	writeConfigFile(t, dir, "backends.yaml", `
backends:
  groq:
    type: groq
    enabled: true
    requests_per_minute: 99
`)
	writeConfigFile(t, dir, "permissions.yaml", "admins: [42]\n")

	if err := cfg.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if cfg.Backends["groq"].RequestsPerMinute != 99 {
		t.Errorf("rpm after reload = %d, want 99", cfg.Backends["groq"].RequestsPerMinute)
	}
	if !reflect.DeepEqual(cfg.Permissions.Admins, []int64{42}) {
		t.Errorf("admins after reload = %v", cfg.Permissions.Admins)
	}
}

func TestBuildBackends(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"groq":         {Type: BackendTypeGroq, Enabled: true, Priority: 1, Model: "m", Models: []string{"m"}},
			"ollama_local": {Type: BackendTypeOllamaLocal, Enabled: true, Priority: 2},
			"ollama_cloud": {Type: BackendTypeOllamaCloud, Enabled: true, Priority: 3},
		},
	}

	// ollama_cloud has no host anywhere, so it is skipped.
	backends := BuildBackends(cfg, Secrets{GroqAPIKey: "k"})
	if len(backends) != 2 {
		t.Fatalf("built %d backends, want 2", len(backends))
	}
	if backends[0].Name() != "groq" || backends[1].Name() != "ollama_local" {
		t.Errorf("order = [%s %s]", backends[0].Name(), backends[1].Name())
	}
	if backends[0].CurrentModel() != "m" {
		t.Errorf("groq model = %q, want configured m", backends[0].CurrentModel())
	}

	backends = BuildBackends(cfg, Secrets{OllamaCloudURL: "https://ollama.example.com"})
	if len(backends) != 3 {
		t.Fatalf("built %d backends, want 3 with cloud host from env", len(backends))
	}
	if backends[2].Name() != "ollama_cloud" {
		t.Errorf("last backend = %s, want ollama_cloud", backends[2].Name())
	}
}
