// Package config builds the immutable configuration value the cleanup
// engine consumes. Values come from CLI flags, a YAML policy file and the
// GitHub Actions INPUT_* environment, in that order of precedence; the
// resulting Config is handed to the engine once and never mutated.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/filter"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/duration"
)

// Registry type names accepted by the "registry" option. Empty means
// auto-detect from the registry URL.
const (
	RegistryGHCR      = "ghcr"
	RegistryGitea     = "gitea"
	RegistryDockerHub = "dockerhub"
	RegistryOCI       = "oci"
	RegistryDocker    = "docker"
)

// Config is the full option surface of a cleanup run.
type Config struct {
	Registry    string
	RegistryURL string
	Owner       string
	Token       string
	Packages    []string

	DryRun         bool
	KeepNTagged    *int
	KeepNUntagged  *int
	DeleteUntagged bool
	DeleteTags     []string
	ExcludeTags    []string
	OlderThan      time.Duration

	DeleteGhostImages    bool
	DeletePartialImages  bool
	DeleteOrphanedImages bool

	Validate bool

	Retry    int
	Throttle time.Duration

	LogLevel string
}

// Keys for every recognized option, shared between flag and env binding.
var keys = []string{
	"registry", "registry-url", "owner", "token", "packages",
	"dry-run", "keep-n-tagged", "keep-n-untagged", "delete-untagged",
	"delete-tags", "exclude-tags", "older-than",
	"delete-ghost-images", "delete-partial-images", "delete-orphaned-images",
	"validate", "retry", "throttle", "log-level",
}

// Bind installs defaults and the INPUT_* environment bindings used when the
// binary runs as a GitHub Action step. A flag or config-file value always
// wins over the environment.
func Bind(v *viper.Viper) {
	v.SetDefault("registry", "")
	v.SetDefault("dry-run", false)
	v.SetDefault("delete-untagged", false)
	v.SetDefault("validate", false)
	v.SetDefault("retry", 3)
	v.SetDefault("throttle", 1000)
	v.SetDefault("log-level", "info")

	for _, key := range keys {
		envName := "INPUT_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		v.BindEnv(key, envName) //nolint:errcheck
	}
}

// Load materializes and validates a Config from the bound sources.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Registry:    strings.ToLower(v.GetString("registry")),
		RegistryURL: v.GetString("registry-url"),
		Owner:       v.GetString("owner"),
		Token:       v.GetString("token"),
		Packages:    splitList(v.GetStringSlice("packages")),

		DryRun:         v.GetBool("dry-run"),
		DeleteUntagged: v.GetBool("delete-untagged"),
		DeleteTags:     splitList(v.GetStringSlice("delete-tags")),
		ExcludeTags:    splitList(v.GetStringSlice("exclude-tags")),

		DeleteGhostImages:    v.GetBool("delete-ghost-images"),
		DeletePartialImages:  v.GetBool("delete-partial-images"),
		DeleteOrphanedImages: v.GetBool("delete-orphaned-images"),

		Validate: v.GetBool("validate"),

		Retry:    v.GetInt("retry"),
		Throttle: time.Duration(v.GetInt("throttle")) * time.Millisecond,

		LogLevel: v.GetString("log-level"),
	}

	var err error
	if cfg.KeepNTagged, err = keepCount(v, "keep-n-tagged"); err != nil {
		return nil, err
	}
	if cfg.KeepNUntagged, err = keepCount(v, "keep-n-untagged"); err != nil {
		return nil, err
	}

	if raw := v.GetString("older-than"); raw != "" {
		age, err := duration.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid older-than: %w", err)
		}
		cfg.OlderThan = age
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// keepCount reads an optional keep-N option. Absent or empty means unset;
// anything present must be a valid integer, since a silently mis-parsed
// count would widen the deletion selection.
func keepCount(v *viper.Viper, key string) (*int, error) {
	if !v.IsSet(key) {
		return nil, nil
	}
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: not a number", key, raw)
	}
	return &n, nil
}

func (c *Config) validate() error {
	switch c.Registry {
	case "", RegistryGHCR, RegistryGitea, RegistryDockerHub, RegistryOCI, RegistryDocker:
	default:
		return fmt.Errorf("unknown registry type %q (supported: ghcr, gitea, dockerhub, oci, docker)", c.Registry)
	}

	if c.KeepNTagged != nil && *c.KeepNTagged < 0 {
		return fmt.Errorf("keep-n-tagged must be >= 0, got %d", *c.KeepNTagged)
	}
	if c.KeepNUntagged != nil && *c.KeepNUntagged < 0 {
		return fmt.Errorf("keep-n-untagged must be >= 0, got %d", *c.KeepNUntagged)
	}
	if c.Retry < 0 {
		return fmt.Errorf("retry must be >= 0, got %d", c.Retry)
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle must be >= 0")
	}

	if err := filter.ValidatePatterns(c.DeleteTags); err != nil {
		return fmt.Errorf("invalid delete-tags: %w", err)
	}
	if err := filter.ValidatePatterns(c.ExcludeTags); err != nil {
		return fmt.Errorf("invalid exclude-tags: %w", err)
	}

	return nil
}

// FilterOptions maps the policy part of the configuration onto the filter
// pipeline options.
func (c *Config) FilterOptions() filter.Options {
	return filter.Options{
		ExcludeTags:          c.ExcludeTags,
		DeleteTags:           c.DeleteTags,
		OlderThan:            c.OlderThan,
		KeepNTagged:          c.KeepNTagged,
		KeepNUntagged:        c.KeepNUntagged,
		DeleteUntagged:       c.DeleteUntagged,
		DeleteGhostImages:    c.DeleteGhostImages,
		DeletePartialImages:  c.DeletePartialImages,
		DeleteOrphanedImages: c.DeleteOrphanedImages,
	}
}

// splitList flattens comma- and newline-separated entries, the two list
// syntaxes GitHub Action inputs arrive in.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == '\n'
		}) {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
