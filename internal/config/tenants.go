package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/raaihank/phi-guard/internal/privacy"
)

// Policy converts the raw config into a validated privacy policy.
// Categories not listed are disabled.
func (p PHIConfig) Policy() (privacy.Policy, error) {
	policy := privacy.Policy{
		Categories: make(map[privacy.Category]bool, len(privacy.AllCategories)),
		Reidentification: privacy.ReidentificationPolicy{
			Allowed:          p.Reidentification.Allowed,
			RequiresApproval: p.Reidentification.RequiresApproval,
			MappingTTLHours:  p.Reidentification.MappingTTLHours,
		},
	}

	switch mode := privacy.Mode(strings.ToLower(p.Mode)); mode {
	case privacy.ModeAuto, privacy.ModeManual, privacy.ModeDisabled:
		policy.Mode = mode
	default:
		return privacy.Policy{}, fmt.Errorf("invalid mode: %q (must be auto, manual, or disabled)", p.Mode)
	}

	for _, c := range privacy.AllCategories {
		policy.Categories[c] = false
	}
	for name, enabled := range p.Categories {
		c, err := privacy.ParseCategory(name)
		if err != nil {
			return privacy.Policy{}, err
		}
		policy.Categories[c] = enabled
	}

	if p.Reidentification.Allowed && p.Reidentification.MappingTTLHours <= 0 {
		return privacy.Policy{}, fmt.Errorf("invalid mapping TTL: %v hours", p.Reidentification.MappingTTLHours)
	}
	if p.Reidentification.MappingTTLHours < 0 {
		return privacy.Policy{}, fmt.Errorf("invalid mapping TTL: %v hours", p.Reidentification.MappingTTLHours)
	}

	return policy, nil
}

// merged fills unset tenant fields from the default policy
func (p PHIConfig) merged(defaults PHIConfig) PHIConfig {
	out := p
	if out.Mode == "" {
		out.Mode = defaults.Mode
	}
	if len(out.Categories) == 0 {
		out.Categories = defaults.Categories
	}
	if out.Reidentification.MappingTTLHours == 0 {
		out.Reidentification.MappingTTLHours = defaults.Reidentification.MappingTTLHours
	}
	return out
}

// TenantProvider resolves tenant ids to PHI policies
type TenantProvider struct {
	mu            sync.RWMutex
	defaultPolicy privacy.Policy
	tenants       map[string]privacy.Policy
}

// NewTenantProvider builds a provider from a validated config
func NewTenantProvider(cfg *Config) (*TenantProvider, error) {
	p := &TenantProvider{}
	if err := p.Update(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Update swaps in the policies of a new config. On error the previous policies stay active.
func (p *TenantProvider) Update(cfg *Config) error {
	defaultPolicy, err := cfg.PHI.Policy()
	if err != nil {
		return fmt.Errorf("default policy: %w", err)
	}

	tenants := make(map[string]privacy.Policy, len(cfg.Tenants))
	for id, raw := range cfg.Tenants {
		policy, err := raw.merged(cfg.PHI).Policy()
		if err != nil {
			return fmt.Errorf("tenant %q: %w", id, err)
		}
		tenants[strings.ToLower(id)] = policy
	}

	p.mu.Lock()
	p.defaultPolicy = defaultPolicy
	p.tenants = tenants
	p.mu.Unlock()

	return nil
}

// Policy returns the tenant's policy, or the default policy for unknown tenants.
// Tenant ids are matched case-insensitively since viper lower-cases map keys.
func (p *TenantProvider) Policy(tenantID string) privacy.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if policy, ok := p.tenants[strings.ToLower(tenantID)]; ok {
		return policy
	}
	return p.defaultPolicy
}

// Tenants returns the number of explicitly configured tenants
func (p *TenantProvider) Tenants() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tenants)
}
