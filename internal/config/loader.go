package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists known LLM provider names. Used by [Validate] to
// warn about provider names that may be typos.
var ValidLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// envOverrides holds environment variables that take precedence over the
// corresponding YAML fields. Secrets in particular should come from the
// environment rather than the config file.
type envOverrides struct {
	ListenAddr       string `env:"DMFORGE_LISTEN_ADDR"`
	LLMAPIKey        string `env:"DMFORGE_LLM_API_KEY"`
	ReferenceBaseURL string `env:"DMFORGE_REFERENCE_BASE_URL"`
	DatabaseURL      string `env:"DMFORGE_DATABASE_URL"`
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Non-empty environment
// values win over the YAML file.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.LLMAPIKey != "" {
		cfg.LLM.Primary.APIKey = o.LLMAPIKey
	}
	if o.ReferenceBaseURL != "" {
		cfg.Reference.BaseURL = o.ReferenceBaseURL
	}
	if o.DatabaseURL != "" {
		cfg.Storage.DatabaseURL = o.DatabaseURL
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// LLM providers
	if cfg.LLM.Primary.Name == "" {
		slog.Warn("llm.primary is not configured; the Dungeon Master will not be able to narrate")
	} else {
		validateLLMName("llm.primary", cfg.LLM.Primary.Name)
	}
	for i, entry := range cfg.LLM.Fallbacks {
		prefix := fmt.Sprintf("llm.fallbacks[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateLLMName(prefix, entry.Name)
	}

	// Reference API
	if cfg.Reference.DetailTTL < 0 {
		errs = append(errs, fmt.Errorf("reference.detail_ttl %s must not be negative", cfg.Reference.DetailTTL))
	}

	// Storage availability
	if cfg.Storage.DatabaseURL == "" {
		slog.Warn("storage.database_url is empty; characters will be kept in memory and lost on restart")
	}

	// Campaign outline source
	if cfg.Campaign.Outline != "" && cfg.Campaign.OutlineFile != "" {
		slog.Warn("campaign.outline and campaign.outline_file are both set; outline_file wins")
	}

	// MCP servers
	mcpNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

// validateLLMName logs a warning if name is not found in [ValidLLMProviders].
func validateLLMName(field, name string) {
	if !slices.Contains(ValidLLMProviders, name) {
		slog.Warn("unknown LLM provider name; may be a typo or third-party provider",
			"field", field,
			"name", name,
			"known", ValidLLMProviders,
		)
	}
}
