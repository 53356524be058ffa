// Package config loads wateraudit settings from YAML, the environment and
// command-line overrides, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/wateraudit/internal/schema"
)

// ErrMissingCredential is returned by RequireCredentials when either external
// service key is absent.
var ErrMissingCredential = errors.New("config: missing credential")

// Config holds all wateraudit configuration.
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Search SearchConfig `yaml:"search"`
	Output OutputConfig `yaml:"output"`
}

// LLMConfig configures the model provider. Model serves stages 1-3;
// ReportModel is the reasoning model used by the report composer.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic, google
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	ReportModel string  `yaml:"report_model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// Repair enables a single corrective call when a stage's output fails
	// validation. Off by default: failures abort the run.
	Repair bool `yaml:"repair"`
}

// SearchConfig configures the web search backend.
type SearchConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Engine   string `yaml:"engine"`
	MaxCalls int    `yaml:"max_calls"`
	Results  int    `yaml:"results_per_query"`
	Timeout  string `yaml:"timeout"`
}

// OutputConfig configures report output.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // markdown, json
	Width  int    `yaml:"width"`
}

// defaultModels maps provider name to (general, reasoning) model ids.
var defaultModels = map[string][2]string{
	"openai":    {"gpt-4o", "o3-mini"},
	"anthropic": {"claude-sonnet-4-5", "claude-opus-4-1"},
	"google":    {"gemini-1.5-flash", "gemini-1.5-pro"},
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Search: SearchConfig{
			BaseURL:  "https://serpapi.com/search.json",
			Engine:   "google",
			MaxCalls: 4,
			Results:  8,
			Timeout:  "30s",
		},
		Output: OutputConfig{
			Path:   "water_safety_report.md",
			Format: "markdown",
			Width:  100,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.fillModels()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerKeyEnv names the environment variable holding each provider's key.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// applyEnvOverrides fills credentials from the environment when the file left
// them empty. Keys set in the file win over the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WATERAUDIT_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKey == "" {
		if env, ok := providerKeyEnv[c.LLM.Provider]; ok {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
	if c.Search.APIKey == "" {
		c.Search.APIKey = os.Getenv("SERPAPI_API_KEY")
	}
}

// fillModels sets provider-specific default models for any left empty.
func (c *Config) fillModels() {
	m, ok := defaultModels[c.LLM.Provider]
	if !ok {
		return
	}
	if c.LLM.Model == "" {
		c.LLM.Model = m[0]
	}
	if c.LLM.ReportModel == "" {
		c.LLM.ReportModel = m[1]
	}
}

// SetProvider switches provider, re-resolving the credential and default
// models for the new provider. Models already set explicitly are kept.
func (c *Config) SetProvider(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == c.LLM.Provider {
		return
	}
	c.LLM.Provider = name
	c.LLM.APIKey = ""
	if env, ok := providerKeyEnv[name]; ok {
		c.LLM.APIKey = os.Getenv(env)
	}
	c.LLM.Model, c.LLM.ReportModel = "", ""
	c.fillModels()
}

// Validate checks structural settings. Credentials are checked separately by
// RequireCredentials so that commands which never call out can still run.
func (c *Config) Validate() error {
	if _, ok := providerKeyEnv[c.LLM.Provider]; !ok {
		return fmt.Errorf("config: unknown llm provider %q (available: openai, anthropic, google)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config: llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	// Research searches each category once, so a smaller budget fails every run.
	if n := len(schema.Categories); c.Search.MaxCalls < n {
		return fmt.Errorf("config: search.max_calls must be at least %d (one per research category), got %d", n, c.Search.MaxCalls)
	}
	if c.Search.Results <= 0 {
		return fmt.Errorf("config: search.results_per_query must be positive, got %d", c.Search.Results)
	}
	switch c.Output.Format {
	case "markdown", "json":
	default:
		return fmt.Errorf("config: output.format must be markdown or json, got %q", c.Output.Format)
	}
	return nil
}

// RequireCredentials returns ErrMissingCredential naming the first absent key.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("%w: %s model-service key (set llm.api_key or %s)",
			ErrMissingCredential, c.LLM.Provider, providerKeyEnv[c.LLM.Provider])
	}
	if strings.TrimSpace(c.Search.APIKey) == "" {
		return fmt.Errorf("%w: search-service key (set search.api_key or SERPAPI_API_KEY)", ErrMissingCredential)
	}
	return nil
}
