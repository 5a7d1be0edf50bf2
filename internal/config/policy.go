package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/duration"
)

// Policy is a YAML cleanup policy: shared defaults plus one rule per group
// of packages. It lets a single invocation apply different retention
// settings to different packages.
type Policy struct {
	Defaults Rule   `yaml:"defaults"`
	Rules    []Rule `yaml:"rules"`
}

// Rule is one policy entry. Unset fields inherit from the policy defaults.
type Rule struct {
	Packages []string `yaml:"packages"`

	KeepNTagged   *int `yaml:"keep-n-tagged"`
	KeepNUntagged *int `yaml:"keep-n-untagged"`

	DeleteUntagged *bool    `yaml:"delete-untagged"`
	DeleteTags     []string `yaml:"delete-tags"`
	ExcludeTags    []string `yaml:"exclude-tags"`
	OlderThan      string   `yaml:"older-than"`

	DeleteGhostImages    *bool `yaml:"delete-ghost-images"`
	DeletePartialImages  *bool `yaml:"delete-partial-images"`
	DeleteOrphanedImages *bool `yaml:"delete-orphaned-images"`
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if len(policy.Rules) == 0 {
		return nil, fmt.Errorf("policy file %s declares no rules", path)
	}
	for i, rule := range policy.Rules {
		if len(rule.Packages) == 0 {
			return nil, fmt.Errorf("policy rule %d declares no packages", i+1)
		}
	}

	return &policy, nil
}

// Configs expands the policy into one engine configuration per rule, using
// base for connection settings and filling unset rule fields from the policy
// defaults.
func (p *Policy) Configs(base *Config) ([]*Config, error) {
	configs := make([]*Config, 0, len(p.Rules))
	for i, rule := range p.Rules {
		cfg := *base
		cfg.Packages = rule.Packages

		merged := mergeRule(rule, p.Defaults)
		cfg.KeepNTagged = merged.KeepNTagged
		cfg.KeepNUntagged = merged.KeepNUntagged
		cfg.DeleteTags = merged.DeleteTags
		cfg.ExcludeTags = merged.ExcludeTags
		if merged.DeleteUntagged != nil {
			cfg.DeleteUntagged = *merged.DeleteUntagged
		}
		if merged.DeleteGhostImages != nil {
			cfg.DeleteGhostImages = *merged.DeleteGhostImages
		}
		if merged.DeletePartialImages != nil {
			cfg.DeletePartialImages = *merged.DeletePartialImages
		}
		if merged.DeleteOrphanedImages != nil {
			cfg.DeleteOrphanedImages = *merged.DeleteOrphanedImages
		}
		if merged.OlderThan != "" {
			age, err := duration.Parse(merged.OlderThan)
			if err != nil {
				return nil, fmt.Errorf("policy rule %d: invalid older-than: %w", i+1, err)
			}
			cfg.OlderThan = age
		}

		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("policy rule %d: %w", i+1, err)
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}

func mergeRule(rule, defaults Rule) Rule {
	if rule.KeepNTagged == nil {
		rule.KeepNTagged = defaults.KeepNTagged
	}
	if rule.KeepNUntagged == nil {
		rule.KeepNUntagged = defaults.KeepNUntagged
	}
	if rule.DeleteUntagged == nil {
		rule.DeleteUntagged = defaults.DeleteUntagged
	}
	if len(rule.DeleteTags) == 0 {
		rule.DeleteTags = defaults.DeleteTags
	}
	if len(rule.ExcludeTags) == 0 {
		rule.ExcludeTags = defaults.ExcludeTags
	}
	if rule.OlderThan == "" {
		rule.OlderThan = defaults.OlderThan
	}
	if rule.DeleteGhostImages == nil {
		rule.DeleteGhostImages = defaults.DeleteGhostImages
	}
	if rule.DeletePartialImages == nil {
		rule.DeletePartialImages = defaults.DeletePartialImages
	}
	if rule.DeleteOrphanedImages == nil {
		rule.DeleteOrphanedImages = defaults.DeleteOrphanedImages
	}
	return rule
}
