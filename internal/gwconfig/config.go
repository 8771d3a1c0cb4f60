// Package gwconfig holds the declarative configuration for the gateway:
// the global bearer token, the provider list, and scheduling preferences.
package gwconfig

import (
	"fmt"
	"strings"
)

// ProviderConfig is the immutable declarative description of one upstream.
type ProviderConfig struct {
	Name           string            `yaml:"provider" json:"provider"`
	BaseURL        string            `yaml:"base_url" json:"base_url"`
	APIKey         string            `yaml:"api_key" json:"-"`
	Priority       int               `yaml:"priority" json:"priority"`
	Models         []string          `yaml:"model" json:"model,omitempty"`
	ModelsEndpoint string            `yaml:"models_endpoint" json:"models_endpoint,omitempty"`
	Enabled        *bool             `yaml:"enabled,omitempty" json:"enabled"`
	Alias          map[string]string `yaml:"alias,omitempty" json:"alias,omitempty"`

	// CooldownOverride, when non-nil, overrides preferences.cooldown_period
	// for this provider only (spec §5: "Freeze duration ... may be
	// overridden per provider").
	CooldownOverride *int `yaml:"cooldown_override,omitempty" json:"cooldown_override,omitempty"`
}

// IsEnabled returns the administrative on/off flag, default true.
func (p *ProviderConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// Preferences groups the global dispatch tuning knobs.
type Preferences struct {
	ModelTimeoutSeconds   int    `yaml:"model_timeout" json:"model_timeout"`
	CooldownPeriodSeconds int    `yaml:"cooldown_period" json:"cooldown_period"`
	Proxy                 string `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// AppConfig is the top-level configuration document.
type AppConfig struct {
	APIKey      string           `yaml:"api_key" json:"-"`
	Providers   []ProviderConfig `yaml:"providers" json:"providers"`
	Preferences Preferences      `yaml:"preferences" json:"preferences"`
}

const (
	defaultModelTimeout   = 20
	defaultCooldownPeriod = 300
	defaultModelsEndpoint = "/v1/models"
)

// ApplyDefaults fills in zero-valued optional fields per spec §6. The
// cooldown_period default is applied by decode instead, because an
// explicit 0 is a valid value.
func (c *AppConfig) ApplyDefaults() {
	if c.Preferences.ModelTimeoutSeconds == 0 {
		c.Preferences.ModelTimeoutSeconds = defaultModelTimeout
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if p.ModelsEndpoint == "" {
			p.ModelsEndpoint = defaultModelsEndpoint
		}
		if p.Enabled == nil {
			t := true
			p.Enabled = &t
		}
	}
}

// Validate enforces spec §6's rejection rules. A rejected config must never
// start the server or replace a running configuration.
func (c *AppConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("config: api_key is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	if c.Preferences.ModelTimeoutSeconds <= 0 {
		return fmt.Errorf("config: preferences.model_timeout must be > 0")
	}
	if c.Preferences.CooldownPeriodSeconds < 0 {
		return fmt.Errorf("config: preferences.cooldown_period must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d] is missing a name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %q is missing base_url", p.Name)
		}
	}
	return nil
}

// CooldownFor resolves the effective cooldown duration in seconds for a
// provider, honoring its per-provider override when set.
func (c *AppConfig) CooldownFor(p *ProviderConfig) int {
	if p != nil && p.CooldownOverride != nil {
		return *p.CooldownOverride
	}
	return c.Preferences.CooldownPeriodSeconds
}
