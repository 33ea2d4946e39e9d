package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiserve/modelrouter/internal/descriptor"
)

// Catalog is the declarative model/provider catalog loaded at startup. It
// names every model the Registry should seed itself with and the routing,
// budget, observability and security policy that governs them.
type Catalog struct {
	Providers     ProvidersConfig     `yaml:"providers" json:"providers"`
	Models        []ModelConfig       `yaml:"models" json:"models"`
	Routing       RoutingConfig       `yaml:"routing" json:"routing"`
	Budget        BudgetConfig        `yaml:"budget" json:"budget"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
}

// ProvidersConfig carries credentials and defaults per API-backed provider a
// model in the catalog may reference by name.
type ProvidersConfig struct {
	Cloudflare *APIProviderConfig `yaml:"cloudflare,omitempty" json:"cloudflare,omitempty"`
	OpenAI     *APIProviderConfig `yaml:"openai,omitempty" json:"openai,omitempty"`
	Anthropic  *APIProviderConfig `yaml:"anthropic,omitempty" json:"anthropic,omitempty"`
}

// APIProviderConfig is one named API-backed provider's connection defaults.
type APIProviderConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	APIKey         string  `yaml:"api_key" json:"api_key"`
	AuthKind       string  `yaml:"auth_kind" json:"auth_kind"` // api_key, bearer
	CostPerMillion float64 `yaml:"cost_per_million_tokens,omitempty" json:"cost_per_million_tokens,omitempty"`
}

// ModelConfig declares one model the registry should register at startup.
// Either Source names a local file/checkout (native/graph/child-process
// loaders) or Provider names an entry in ProvidersConfig (api loader).
type ModelConfig struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Format       string   `yaml:"format,omitempty" json:"format,omitempty"`
	Source       string   `yaml:"source,omitempty" json:"source,omitempty"`
	Provider     string   `yaml:"provider,omitempty" json:"provider,omitempty"`
	ProviderName string   `yaml:"provider_model,omitempty" json:"provider_model,omitempty"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	ContextWindow    int `yaml:"context_window,omitempty" json:"context_window,omitempty"`
	QuantizationBits int `yaml:"quantization_bits,omitempty" json:"quantization_bits,omitempty"`

	CostPerMillionTokens float64 `yaml:"cost_per_million_tokens,omitempty" json:"cost_per_million_tokens,omitempty"`
}

// RoutingConfig holds the catalog's routing section. LoadCatalog fills in
// its defaults, but the router and pipeline do not read it: the default
// strategy and fallback limit come from the environment Config.
type RoutingConfig struct {
	Strategy string         `yaml:"strategy" json:"strategy"`
	Failover FailoverConfig `yaml:"failover" json:"failover"`
}

type FailoverConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// BudgetConfig holds the catalog's budget section. It is parsed but not
// read by the router, middleware or observability code, and no spending
// limit is enforced.
type BudgetConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	DailyLimit   float64 `yaml:"daily_limit" json:"daily_limit"`
	MonthlyLimit float64 `yaml:"monthly_limit" json:"monthly_limit"`
}

type ObservabilityConfig struct {
	Logging LoggingBlock `yaml:"logging" json:"logging"`
	Metrics MetricsBlock `yaml:"metrics" json:"metrics"`
}

type LoggingBlock struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type MetricsBlock struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type SecurityConfig struct {
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" json:"rate_limiting"`
	CORS         CORSConfig         `yaml:"cors" json:"cors"`
}

type RateLimitingConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	DefaultLimit int  `yaml:"default_limit" json:"default_limit"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LoadCatalog reads a YAML or JSON catalog file, expanding environment
// variables first so provider API keys never need to be committed to disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	cat := &Catalog{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cat); err != nil {
			return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal([]byte(expanded), cat); err != nil {
			return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s (use .yaml or .json)", ext)
	}

	cat.setDefaults()
	return cat, nil
}

func (c *Catalog) setDefaults() {
	if c.Routing.Strategy == "" {
		c.Routing.Strategy = "balanced"
	}
	if c.Routing.Failover.MaxRetries == 0 {
		c.Routing.Failover.MaxRetries = 3
	}
	if c.Routing.Failover.RetryDelay == 0 {
		c.Routing.Failover.RetryDelay = time.Second
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "json"
	}
}

// providerConfig returns a named provider's connection settings exactly as
// the catalog declares them; no model-level override is applied.
func (c *Catalog) providerConfig(name string) (*APIProviderConfig, bool) {
	switch name {
	case "cloudflare":
		return c.Providers.Cloudflare, c.Providers.Cloudflare != nil
	case "openai":
		return c.Providers.OpenAI, c.Providers.OpenAI != nil
	case "anthropic":
		return c.Providers.Anthropic, c.Providers.Anthropic != nil
	default:
		return nil, false
	}
}

// ProviderAPIKey returns the configured credential for a named provider, or
// "" if the provider is unknown or carries no key. Used to seed the API
// loader's per-model auth secret resolver without persisting credentials
// into the registry's descriptors.
func (c *Catalog) ProviderAPIKey(name string) string {
	pc, ok := c.providerConfig(name)
	if !ok || pc == nil {
		return ""
	}
	return pc.APIKey
}

// Descriptors translates every declared ModelConfig into a registry-ready
// descriptor.Descriptor. This is the seam between the declarative catalog
// file an operator edits and the live Registry the router reads from.
func (c *Catalog) Descriptors() ([]descriptor.Descriptor, error) {
	out := make([]descriptor.Descriptor, 0, len(c.Models))
	for _, m := range c.Models {
		d, err := c.descriptorFor(m)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *Catalog) descriptorFor(m ModelConfig) (descriptor.Descriptor, error) {
	caps := make(descriptor.CapabilitySet, len(m.Capabilities))
	for _, tag := range m.Capabilities {
		caps[descriptor.Capability(tag)] = struct{}{}
	}

	d := descriptor.Descriptor{
		ID:           m.ID,
		Name:         m.Name,
		Capabilities: caps,
		Parameters: descriptor.Parameters{
			ContextWindow:    m.ContextWindow,
			QuantizationBits: m.QuantizationBits,
		},
	}

	if m.Provider != "" {
		pc, ok := c.providerConfig(m.Provider)
		if !ok || !pc.Enabled {
			return descriptor.Descriptor{}, fmt.Errorf("provider %q is not configured or not enabled", m.Provider)
		}
		d.Format = descriptor.FormatAPI
		d.Source = m.ProviderName
		if d.Source == "" {
			d.Source = m.ID
		}
		authKind := descriptor.AuthKindBearer
		if pc.AuthKind == "api_key" {
			authKind = descriptor.AuthKindAPIKey
		}
		cost := m.CostPerMillionTokens
		if cost == 0 {
			cost = pc.CostPerMillion
		}
		d.Provider = descriptor.ProviderConfig{
			BaseURL:        pc.BaseURL,
			AuthKind:       authKind,
			CostPerMillion: cost,
		}
		return d, nil
	}

	d.Format = descriptor.Format(m.Format)
	d.Source = m.Source
	d.Provider = descriptor.ProviderConfig{CostPerMillion: m.CostPerMillionTokens}
	return d, nil
}
