// Package config loads saturn configuration: defaults, then a TOML file,
// then environment variables (env wins). Secrets live encrypted in the
// workspace settings file, never in plaintext on disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full application configuration.
type Config struct {
	Provider Provider `toml:"provider"`
	Agent    Agent    `toml:"agent"`
	Patch    Patch    `toml:"patch"`
	Store    Store    `toml:"store"`
	Observer Observer `toml:"observer"`
	Server   Server   `toml:"server"`

	// secrets is the optional encrypted workspace store consulted by APIKey.
	secrets *SecretStore
}

// AttachSecrets plugs the workspace secret store into key resolution.
func (c *Config) AttachSecrets(s *SecretStore) { c.secrets = s }

// Provider configures the chat completions endpoint.
type Provider struct {
	Name    string `toml:"name"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	Referer string `toml:"referer"`
	Title   string `toml:"title"`

	// RetryAttempts enables transient-error retries around the provider
	// (attempts total, not extra tries). Zero disables the retry wrapper.
	RetryAttempts int `toml:"retry_attempts"`

	// RPM and TPM enable proactive client-side rate limiting. Zero disables
	// the respective budget.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

// Agent configures loop defaults.
type Agent struct {
	SystemPrompt           string   `toml:"system_prompt"`
	Temperature            *float64 `toml:"temperature"`
	TopP                   *float64 `toml:"top_p"`
	MaxTokens              int      `toml:"max_tokens"`
	MaxHistoryMessages     int      `toml:"max_history_messages"`
	MaxToolRounds          int      `toml:"max_tool_rounds"`
	MaxConcurrentAgents    int      `toml:"max_concurrent_agents"`
	ToolAllowlist          []string `toml:"tool_allowlist"`
	RequireCommandApproval bool     `toml:"require_command_approval"`
}

// Patch configures the patch engine and fast-apply service.
type Patch struct {
	Endpoint       string `toml:"endpoint"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	EnableFallback bool   `toml:"enable_fallback"`
	MetricsPath    string `toml:"metrics_path"`
}

// Store configures session persistence.
type Store struct {
	Driver      string `toml:"driver"` // "sqlite" or "postgres"
	Path        string `toml:"path"`   // sqlite file
	PostgresURL string `toml:"postgres_url"`
}

// Observer configures OpenTelemetry export.
type Observer struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Server configures the chat transport.
type Server struct {
	Port int `toml:"port"`
}

// RemoteTimeout returns the fast-apply timeout as a duration.
func (p Patch) RemoteTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider: Provider{
			Name:    "openrouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-sonnet-4",
			Title:   "saturn",
		},
		Agent: Agent{
			MaxToolRounds:       32,
			MaxConcurrentAgents: 8,
		},
		Patch: Patch{
			Model:          "morph-v3-large",
			TimeoutSeconds: 30,
			EnableFallback: true,
			MetricsPath:    filepath.Join(DataDir(), "diff-metrics.jsonl"),
		},
		Store: Store{
			Driver: "sqlite",
			Path:   filepath.Join(DataDir(), "saturn.db"),
		},
		Server: Server{Port: 5173},
	}
}

// DataDir is the per-user application data directory.
func DataDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "/tmp"
	}
	return filepath.Join(base, "saturn")
}

// WorkspaceDir is the workspace-relative settings directory.
func WorkspaceDir(root string) string {
	return filepath.Join(root, ".saturn")
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "saturn.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("MORPH_API_KEY"); v != "" {
		cfg.Patch.APIKey = v
	}
	if v := os.Getenv("SATURN_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("SATURN_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("SATURN_PATCH_ENDPOINT"); v != "" {
		cfg.Patch.Endpoint = v
	}
	if v := os.Getenv("SATURN_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SATURN_POSTGRES_URL"); v != "" {
		cfg.Store.PostgresURL = v
		cfg.Store.Driver = "postgres"
	}
	if v := os.Getenv("SATURN_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
		cfg.Observer.Enabled = true
	}

	// The patch service shares the chat key when it has none of its own.
	if cfg.Patch.APIKey == "" {
		cfg.Patch.APIKey = cfg.Provider.APIKey
	}
	return cfg
}

// APIKey resolves the key for a provider with precedence env var ->
// workspace secret store -> dedicated config -> global fallback. Every
// provider name falls back to the global key, so OpenAI-compatible endpoints
// beyond OpenRouter (openai, groq, deepseek) resolve too. Returns "" when
// nothing is set.
func (c Config) APIKey(provider string) string {
	if provider == "" {
		provider = "openrouter"
	}
	if provider == "morph" {
		if v := os.Getenv("MORPH_API_KEY"); v != "" {
			return v
		}
		if v := c.secretKey("morph"); v != "" {
			return v
		}
		if c.Patch.APIKey != "" {
			return c.Patch.APIKey
		}
		return c.Provider.APIKey
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		return v
	}
	if v := c.secretKey(provider); v != "" {
		return v
	}
	return c.Provider.APIKey
}

// secretKey consults the attached secret store under "<provider>_api_key".
func (c Config) secretKey(provider string) string {
	if c.secrets == nil {
		return ""
	}
	v, ok, err := c.secrets.GetSecret(provider + "_api_key")
	if err != nil || !ok {
		return ""
	}
	return v
}

// Validate reports fatal configuration problems.
func (c Config) Validate() error {
	if c.APIKey(c.Provider.Name) == "" {
		return fmt.Errorf("config: no API key for provider %s (set OPENROUTER_API_KEY)", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("config: no model configured")
	}
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d outside [1024, 65535]", c.Server.Port)
	}
	return nil
}
