// Package config provides configuration management for safegate.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (SAFEGATE_*)
// 3. Explicit config file (SAFEGATE_CONFIG / --config)
// 4. Project config (.safegate/config.yaml in cwd), rules only
// 5. Home config (~/.safegate/config.yaml)
// 6. Defaults
//
// The project config lives in a directory the agent can write to, so it is
// only allowed to add rules. Anything that relaxes the gate must come from the
// home config, an explicit config file, the environment or flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all safegate configuration.
type Config struct {
	// StateDir holds bypass tokens, blocked-state snapshots, the audit trail
	// and the log file. Default: ~/.safegate/state
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// BypassPhrase is what a user types at the start of a message to arm a
	// one-shot bypass token.
	BypassPhrase string `yaml:"bypass_phrase" json:"bypass_phrase"`

	// TokenTTL is how long an armed bypass token (and a blocked-state
	// snapshot) stays valid. Duration string, default "30s".
	TokenTTL string `yaml:"token_ttl" json:"token_ttl"`

	// SnippetLength bounds the command text kept in blocked-state snapshots
	// and audit records.
	SnippetLength int `yaml:"snippet_length" json:"snippet_length"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Disabled turns the gate into a pass-through.
	Disabled bool `yaml:"disabled" json:"disabled"`

	// OnlyUnattended evaluates commands only when the agent runs with
	// permission prompts skipped (permission_mode=bypassPermissions).
	OnlyUnattended bool `yaml:"only_unattended" json:"only_unattended"`

	// ContainerRuntimes extends the built-in runtime list used by the
	// container exemption.
	ContainerRuntimes []string `yaml:"container_runtimes,omitempty" json:"container_runtimes,omitempty"`

	// Rules are extra classification rules appended to the built-in set.
	Rules []RuleConfig `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// RuleConfig is a custom rule as written in a config file. Rules are plain
// records, never code.
type RuleConfig struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Label    string `yaml:"label" json:"label"`
	Severity string `yaml:"severity" json:"severity"`
}

// Default config values (used in resolution and validation).
const (
	defaultBypassPhrase  = "BYPASS GATE"
	defaultTokenTTL      = "30s"
	defaultSnippetLength = 100
)

// DefaultTokenTTL is the fallback when token_ttl is missing or unparsable.
const DefaultTokenTTL = 30 * time.Second

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		StateDir:      defaultStateDir(),
		BypassPhrase:  defaultBypassPhrase,
		TokenTTL:      defaultTokenTTL,
		SnippetLength: defaultSnippetLength,
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "safegate")
	}
	return filepath.Join(home, ".safegate", "state")
}

// TTL returns the parsed token TTL, falling back to DefaultTokenTTL.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.TokenTTL))
	if err != nil || d <= 0 {
		return DefaultTokenTTL
	}
	return d
}

// Load loads configuration with proper precedence for a hook running in cwd.
// An empty cwd means the process working directory.
// Priority: flags > env > explicit file > project (rules only) > home > defaults
func Load(cwd string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath(cwd)); projectConfig != nil {
		cfg = mergeProject(cfg, projectConfig)
	}

	if explicitConfig, _ := loadFromPath(explicitConfigPath()); explicitConfig != nil {
		cfg = merge(cfg, explicitConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".safegate", "config.yaml")
}

// projectConfigPath returns the project config path for cwd.
func projectConfigPath(cwd string) string {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		cwd = wd
	}
	return filepath.Join(cwd, ".safegate", "config.yaml")
}

// explicitConfigPath returns the operator-chosen config file, if any.
func explicitConfigPath() string {
	return strings.TrimSpace(os.Getenv("SAFEGATE_CONFIG"))
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// truthy reports whether an env value means "on".
func truthy(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("SAFEGATE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("SAFEGATE_BYPASS_PHRASE"); v != "" {
		cfg.BypassPhrase = v
	}
	if v := os.Getenv("SAFEGATE_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if truthy(os.Getenv("SAFEGATE_VERBOSE")) {
		cfg.Verbose = true
	}
	if truthy(os.Getenv("SAFEGATE_DISABLED")) {
		cfg.Disabled = true
	}
	if truthy(os.Getenv("SAFEGATE_ONLY_UNATTENDED")) {
		cfg.OnlyUnattended = true
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src > 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans can only be switched on by a higher layer.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.StateDir, src.StateDir)
	mergeStr(&dst.BypassPhrase, src.BypassPhrase)
	mergeStr(&dst.TokenTTL, src.TokenTTL)
	mergeInt(&dst.SnippetLength, src.SnippetLength)
	if src.Verbose {
		dst.Verbose = true
	}
	if src.Disabled {
		dst.Disabled = true
	}
	if src.OnlyUnattended {
		dst.OnlyUnattended = true
	}
	dst.ContainerRuntimes = append(dst.ContainerRuntimes, src.ContainerRuntimes...)
	dst.Rules = append(dst.Rules, src.Rules...)
	return dst
}

// mergeProject merges an untrusted project config: only rules (which can
// only tighten the gate) and verbosity are taken.
func mergeProject(dst, src *Config) *Config {
	if src.Verbose {
		dst.Verbose = true
	}
	dst.Rules = append(dst.Rules, src.Rules...)
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceHome     Source = "~/.safegate/config.yaml"
	SourceExplicit Source = "SAFEGATE_CONFIG"
	SourceEnv      Source = "environment"
	SourceFlag     Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// resolveStringField resolves a string through the precedence chain.
// Project config never contributes scalar settings, so it has no slot here.
func resolveStringField(home, explicit, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if explicit != "" {
		result = resolved{Value: explicit, Source: SourceExplicit}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// resolveBoolField resolves an OR-semantics boolean through the chain.
func resolveBoolField(home, explicit, env, flag bool) resolved {
	result := resolved{Value: false, Source: SourceDefault}
	if home {
		result = resolved{Value: true, Source: SourceHome}
	}
	if explicit {
		result = resolved{Value: true, Source: SourceExplicit}
	}
	if env {
		result = resolved{Value: true, Source: SourceEnv}
	}
	if flag {
		result = resolved{Value: true, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	StateDir       resolved `json:"state_dir" yaml:"state_dir"`
	BypassPhrase   resolved `json:"bypass_phrase" yaml:"bypass_phrase"`
	TokenTTL       resolved `json:"token_ttl" yaml:"token_ttl"`
	Verbose        resolved `json:"verbose" yaml:"verbose"`
	Disabled       resolved `json:"disabled" yaml:"disabled"`
	OnlyUnattended resolved `json:"only_unattended" yaml:"only_unattended"`
	CustomRules    int      `json:"custom_rules" yaml:"custom_rules"`
}

type resolved struct {
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// Resolve returns configuration with source tracking.
func Resolve(cwd, flagStateDir string, flagVerbose bool) *ResolvedConfig {
	home, _ := loadFromPath(homeConfigPath())
	if home == nil {
		home = &Config{}
	}
	explicit, _ := loadFromPath(explicitConfigPath())
	if explicit == nil {
		explicit = &Config{}
	}
	project, _ := loadFromPath(projectConfigPath(cwd))

	envStateDir, _ := getEnvString("SAFEGATE_STATE_DIR")
	envPhrase, _ := getEnvString("SAFEGATE_BYPASS_PHRASE")
	envTTL, _ := getEnvString("SAFEGATE_TOKEN_TTL")

	rc := &ResolvedConfig{
		StateDir:       resolveStringField(home.StateDir, explicit.StateDir, envStateDir, flagStateDir, defaultStateDir()),
		BypassPhrase:   resolveStringField(home.BypassPhrase, explicit.BypassPhrase, envPhrase, "", defaultBypassPhrase),
		TokenTTL:       resolveStringField(home.TokenTTL, explicit.TokenTTL, envTTL, "", defaultTokenTTL),
		Verbose:        resolveBoolField(home.Verbose, explicit.Verbose, truthy(os.Getenv("SAFEGATE_VERBOSE")), flagVerbose),
		Disabled:       resolveBoolField(home.Disabled, explicit.Disabled, truthy(os.Getenv("SAFEGATE_DISABLED")), false),
		OnlyUnattended: resolveBoolField(home.OnlyUnattended, explicit.OnlyUnattended, truthy(os.Getenv("SAFEGATE_ONLY_UNATTENDED")), false),
		CustomRules:    len(home.Rules) + len(explicit.Rules),
	}
	if project != nil {
		rc.CustomRules += len(project.Rules)
	}
	return rc
}
