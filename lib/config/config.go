// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads.
const EnvironmentVariable = "BUREAU_ASSETS_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the configuration of one sandbox and its packages.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// AppVersion identifies the application build for cache
	// generation checks. Empty means the binary's version.
	AppVersion string `yaml:"app_version"`

	// Download holds the limits every package's downloads use.
	Download DownloadConfig `yaml:"download"`

	// Loading bounds resource loading.
	Loading LoadingConfig `yaml:"loading"`

	// Packages lists the resource packages of the sandbox.
	Packages []PackageConfig `yaml:"packages"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Download *DownloadConfig `yaml:"download,omitempty"`
	Loading  *LoadingConfig  `yaml:"loading,omitempty"`

	// ClearCacheWhenDirty, when set, applies to every package.
	ClearCacheWhenDirty *bool `yaml:"clear_cache_when_dirty,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for delivery data.
	Root string `yaml:"root"`

	// Sandbox holds the cache, persisted manifests, and cache record.
	Sandbox string `yaml:"sandbox"`

	// Builtin holds the manifests and units shipped with the
	// application.
	Builtin string `yaml:"builtin"`
}

// DownloadConfig bounds remote transfers.
type DownloadConfig struct {
	// MaxConcurrent is the number of requests in flight per download.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxRetries is the number of attempts per file.
	MaxRetries int `yaml:"max_retries"`

	// Timeout bounds each request, as a Go duration string.
	Timeout string `yaml:"timeout"`

	// VerifyWorkers bounds concurrent cache verification. Zero picks
	// a value from the CPU count.
	VerifyWorkers int `yaml:"verify_workers"`

	// AlternationScope is "operation" or "global".
	AlternationScope string `yaml:"alternation_scope"`
}

// LoadingConfig bounds resource loading.
type LoadingConfig struct {
	// MaxConcurrent is the number of unfinished loads advanced per
	// tick.
	MaxConcurrent int `yaml:"max_concurrent"`

	// TickInterval is the period of the background tick.
	TickInterval string `yaml:"tick_interval"`
}

// PackageConfig describes one resource package.
type PackageConfig struct {
	Name string `yaml:"name"`

	// Mode is "host" or "offline".
	Mode string `yaml:"mode"`

	// ManifestName names the published manifest. Empty means Name.
	ManifestName string `yaml:"manifest_name"`

	// Primary and Fallback are the base URLs of the published files.
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`

	ClearCacheWhenDirty bool `yaml:"clear_cache_when_dirty"`

	// KeyFile holds the decryption key for encrypted units.
	KeyFile string `yaml:"key_file"`

	// KeyKind is "xchacha" (a 32-byte key) or "age" (an identity
	// file). Empty means xchacha.
	KeyKind string `yaml:"key_kind"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bureau-assets")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:    defaultRoot,
			Sandbox: filepath.Join(defaultRoot, "sandbox"),
			Builtin: filepath.Join(defaultRoot, "builtin"),
		},
		Download: DownloadConfig{
			MaxConcurrent:    4,
			MaxRetries:       3,
			Timeout:          "60s",
			AlternationScope: "operation",
		},
		Loading: LoadingConfig{
			MaxConcurrent: 10,
			TickInterval:  "16ms",
		},
	}
}

// Load loads configuration from the BUREAU_ASSETS_CONFIG environment
// variable. There are no fallbacks: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your assets.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			enabled := true
			overrides = &ConfigOverrides{
				Download:            &DownloadConfig{AlternationScope: "global"},
				ClearCacheWhenDirty: &enabled,
			}
		}
	}

	if overrides == nil {
		return
	}

	if download := overrides.Download; download != nil {
		if download.MaxConcurrent > 0 {
			c.Download.MaxConcurrent = download.MaxConcurrent
		}
		if download.MaxRetries > 0 {
			c.Download.MaxRetries = download.MaxRetries
		}
		if download.Timeout != "" {
			c.Download.Timeout = download.Timeout
		}
		if download.VerifyWorkers > 0 {
			c.Download.VerifyWorkers = download.VerifyWorkers
		}
		if download.AlternationScope != "" {
			c.Download.AlternationScope = download.AlternationScope
		}
	}

	if loading := overrides.Loading; loading != nil {
		if loading.MaxConcurrent > 0 {
			c.Loading.MaxConcurrent = loading.MaxConcurrent
		}
		if loading.TickInterval != "" {
			c.Loading.TickInterval = loading.TickInterval
		}
	}

	if overrides.ClearCacheWhenDirty != nil {
		for i := range c.Packages {
			c.Packages[i].ClearCacheWhenDirty = *overrides.ClearCacheWhenDirty
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"ASSETS_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ASSETS_ROOT"] = c.Paths.Root

	c.Paths.Sandbox = expandVars(c.Paths.Sandbox, vars)
	c.Paths.Builtin = expandVars(c.Paths.Builtin, vars)
	for i := range c.Packages {
		c.Packages[i].KeyFile = expandVars(c.Packages[i].KeyFile, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Sandbox == "" {
		errs = append(errs, errors.New("paths.sandbox is required"))
	}

	if c.Download.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("download.max_concurrent must be positive"))
	}
	if c.Download.MaxRetries <= 0 {
		errs = append(errs, errors.New("download.max_retries must be positive"))
	}
	if _, err := c.Download.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if !contains([]string{"operation", "global"}, c.Download.AlternationScope) {
		errs = append(errs, fmt.Errorf("download.alternation_scope must be one of: operation, global"))
	}
	if c.Loading.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("loading.max_concurrent must be positive"))
	}
	if _, err := c.Loading.TickDuration(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Packages))
	for i, pkg := range c.Packages {
		prefix := fmt.Sprintf("packages[%d]", i)
		if pkg.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if seen[pkg.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate package %q", prefix, pkg.Name))
		}
		seen[pkg.Name] = true
		if strings.ContainsAny(pkg.Name, "@/") {
			errs = append(errs, fmt.Errorf("%s.name %q must not contain '@' or '/'", prefix, pkg.Name))
		}
		if !contains([]string{"", "host", "offline"}, pkg.Mode) {
			errs = append(errs, fmt.Errorf("%s.mode must be one of: host, offline", prefix))
		}
		if pkg.Mode != "offline" && pkg.Primary == "" {
			errs = append(errs, fmt.Errorf("%s.primary is required in host mode", prefix))
		}
		if !contains([]string{"", "xchacha", "age"}, pkg.KeyKind) {
			errs = append(errs, fmt.Errorf("%s.key_kind must be one of: xchacha, age", prefix))
		}
		if pkg.KeyKind != "" && pkg.KeyFile == "" {
			errs = append(errs, fmt.Errorf("%s.key_kind is set without key_file", prefix))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Package returns the package called name.
func (c *Config) Package(name string) (PackageConfig, bool) {
	for _, pkg := range c.Packages {
		if pkg.Name == name {
			return pkg, true
		}
	}
	return PackageConfig{}, false
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Sandbox} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// TimeoutDuration parses Timeout. Empty means zero.
func (d DownloadConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("download.timeout", d.Timeout)
}

// TickDuration parses TickInterval. Empty means zero.
func (l LoadingConfig) TickDuration() (time.Duration, error) {
	return parseDuration("loading.tick_interval", l.TickInterval)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return duration, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
