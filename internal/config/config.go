package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	xerrors "xrepo/internal/errors"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete xrepo configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Context   ContextConfig   `json:"context" mapstructure:"context"`
	Detector  DetectorConfig  `json:"detector" mapstructure:"detector"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Tokens    TokensConfig    `json:"tokens" mapstructure:"tokens"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// ContextConfig controls the context window and its allocator
type ContextConfig struct {
	TokenBudget        int     `json:"tokenBudget" mapstructure:"tokenBudget"`
	DependencyHops     int     `json:"dependencyHops" mapstructure:"dependencyHops"`
	AuxiliaryPriority  int     `json:"auxiliaryPriority" mapstructure:"auxiliaryPriority"`
	HighScoreThreshold float64 `json:"highScoreThreshold" mapstructure:"highScoreThreshold"`
	StructuralBoost    float64 `json:"structuralBoost" mapstructure:"structuralBoost"`
}

// DetectorConfig controls integration point detection
type DetectorConfig struct {
	MinConfidence float64 `json:"minConfidence" mapstructure:"minConfidence"`
	MaxPairs      int     `json:"maxPairs" mapstructure:"maxPairs"` // 0 means unlimited
}

// CacheConfig contains cache sizes
type CacheConfig struct {
	FileEntries  int `json:"fileEntries" mapstructure:"fileEntries"`
	ScoreEntries int `json:"scoreEntries" mapstructure:"scoreEntries"`
}

// ProvidersConfig configures symbol graph extraction
type ProvidersConfig struct {
	Default       string   `json:"default" mapstructure:"default"`
	Parallelism   int      `json:"parallelism" mapstructure:"parallelism"`
	Include       []string `json:"include" mapstructure:"include"`
	Exclude       []string `json:"exclude" mapstructure:"exclude"`
	ScipIndexPath string   `json:"scipIndexPath" mapstructure:"scipIndexPath"`
	GraphFile     string   `json:"graphFile" mapstructure:"graphFile"` // empty tries xrepo-graph.{json,yaml,yml}

	RespectGitignore bool  `json:"respectGitignore" mapstructure:"respectGitignore"`
	MaxFileBytes     int64 `json:"maxFileBytes" mapstructure:"maxFileBytes"`
}

// StorageConfig contains snapshot persistence settings
type StorageConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	SnapshotPath string `json:"snapshotPath" mapstructure:"snapshotPath"`
}

// TokensConfig selects the token estimator
type TokensConfig struct {
	Encoding string `json:"encoding" mapstructure:"encoding"` // "heuristic" or a tiktoken encoding name
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Context: ContextConfig{
			TokenBudget:        8000,
			DependencyHops:     1,
			AuxiliaryPriority:  0,
			HighScoreThreshold: 0.5,
			StructuralBoost:    0.15,
		},
		Detector: DetectorConfig{
			MinConfidence: 0.3,
			MaxPairs:      0,
		},
		Cache: CacheConfig{
			FileEntries:  256,
			ScoreEntries: 4096,
		},
		Providers: ProvidersConfig{
			Default:       "treesitter",
			Parallelism:   4,
			Include:       []string{"**/*.go", "**/*.py", "**/*.js", "**/*.ts"},
			Exclude:       []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/testdata/**"},
			ScipIndexPath: "index.scip",
			GraphFile:     "",

			RespectGitignore: true,
			MaxFileBytes:     1 << 20,
		},
		Storage: StorageConfig{
			Enabled:      true,
			SnapshotPath: ".xrepo/xrepo.db",
		},
		Tokens: TokensConfig{
			Encoding: "heuristic",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// envKeys are the settings that may be overridden through XREPO_* environment variables.
var envKeys = map[string]func(*Config) interface{}{
	"context.tokenBudget":    func(c *Config) interface{} { return c.Context.TokenBudget },
	"context.dependencyHops": func(c *Config) interface{} { return c.Context.DependencyHops },
	"detector.minConfidence": func(c *Config) interface{} { return c.Detector.MinConfidence },
	"providers.default":      func(c *Config) interface{} { return c.Providers.Default },
	"providers.parallelism":  func(c *Config) interface{} { return c.Providers.Parallelism },
	"tokens.encoding":        func(c *Config) interface{} { return c.Tokens.Encoding },
	"logging.level":          func(c *Config) interface{} { return c.Logging.Level },
}

// EnvVar names an environment override and the setting it replaces.
type EnvVar struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// EnvVars lists the supported environment overrides sorted by name.
func EnvVars() []EnvVar {
	out := make([]EnvVar, 0, len(envKeys))
	for key := range envKeys {
		out = append(out, EnvVar{Name: "XREPO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")), Key: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadConfig loads configuration from <root>/.xrepo/config.json, falling back to
// defaults for anything the file does not set.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()

	for key, get := range envKeys {
		v.SetDefault(key, get(cfg))
	}
	v.SetEnvPrefix("XREPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, ".xrepo"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, xerrors.New(xerrors.ConfigurationError, "failed to read config", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, xerrors.New(xerrors.ConfigurationError, "failed to decode config", err)
	}

	return cfg, nil
}

// Save writes the configuration to <root>/.xrepo/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ".xrepo")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid. Failures are ConfigurationErrors
// wrapping a *ConfigError that names the field.
func (c *Config) Validate() error {
	check := func(ok bool, field, message string) error {
		if ok {
			return nil
		}
		cerr := &ConfigError{Field: field, Message: message}
		return xerrors.New(xerrors.ConfigurationError, cerr.Error(), cerr)
	}

	checks := []error{
		check(c.Version == CurrentVersion, "version", "unsupported config version"),
		check(c.Context.TokenBudget > 0, "context.tokenBudget", "token budget must be positive"),
		check(c.Context.DependencyHops >= 0, "context.dependencyHops", "hop limit cannot be negative"),
		check(c.Context.HighScoreThreshold >= 0 && c.Context.HighScoreThreshold <= 1, "context.highScoreThreshold", "must be within [0,1]"),
		check(c.Context.StructuralBoost >= 0 && c.Context.StructuralBoost <= 1, "context.structuralBoost", "must be within [0,1]"),
		check(c.Detector.MinConfidence >= 0 && c.Detector.MinConfidence <= 1, "detector.minConfidence", "must be within [0,1]"),
		check(c.Detector.MaxPairs >= 0, "detector.maxPairs", "cannot be negative"),
		check(c.Cache.FileEntries > 0, "cache.fileEntries", "must be positive"),
		check(c.Cache.ScoreEntries > 0, "cache.scoreEntries", "must be positive"),
		check(c.Providers.Parallelism > 0, "providers.parallelism", "must be positive"),
		check(c.Providers.MaxFileBytes >= 0, "providers.maxFileBytes", "cannot be negative"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
