// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

const (
	// DefaultConfigDir is the directory name for narra configuration.
	DefaultConfigDir = ".narra"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
	// DefaultWorldsFile is the default worlds file name.
	DefaultWorldsFile = "worlds.yaml"
	// DefaultDatabaseFile is the per-world SQLite file name.
	DefaultDatabaseFile = "narra.db"
)

var (
	// reNonAlphanumeric matches characters that aren't alphanumeric or underscore.
	reNonAlphanumeric = regexp.MustCompile(`[^a-z0-9_]`)
	// reMultipleUnderscores matches consecutive underscores.
	reMultipleUnderscores = regexp.MustCompile(`_+`)
)

// Config holds static infrastructure configuration (read-only after init).
type Config struct {
	Log      LogConfig      `yaml:"log,omitempty"`
	Embedder EmbedderConfig `yaml:"embedder,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Analysis AnalysisConfig `yaml:"analysis,omitempty"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// EmbedderConfig holds configuration for the embedding provider.
type EmbedderConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// QdrantConfig holds configuration for the Qdrant embedding index.
// The index is optional; similarity queries scan stored embeddings without it.
type QdrantConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// SQLiteConfig holds configuration for the SQLite narrative repository.
type SQLiteConfig struct {
	// Path overrides the per-world database computed by SQLitePathForWorld.
	Path string `yaml:"path,omitempty"`
}

// AnalysisConfig tunes the analytics. Zero values select the service defaults.
type AnalysisConfig struct {
	CompareEpsilon float64           `yaml:"compare_epsilon,omitempty"`
	ImpactDepth    int               `yaml:"impact_depth,omitempty"`
	Cache          bool              `yaml:"cache"`
	Influence      InfluenceSettings `yaml:"influence,omitempty"`
	Themes         ThemeSettings     `yaml:"themes,omitempty"`
	WhatIf         WhatIfSettings    `yaml:"what_if,omitempty"`
}

// InfluenceSettings holds propagation defaults. Weights are keyed by relation type.
type InfluenceSettings struct {
	MaxDepth      int                `yaml:"max_depth,omitempty"`
	MinLikelihood float64            `yaml:"min_likelihood,omitempty"`
	Weights       map[string]float64 `yaml:"weights,omitempty"`
}

// ThemeSettings holds clustering defaults.
type ThemeSettings struct {
	Iterations int     `yaml:"iterations,omitempty"`
	Epsilon    float64 `yaml:"epsilon,omitempty"`
	Seeding    string  `yaml:"seeding,omitempty"`
	Seed       int64   `yaml:"seed,omitempty"`
}

// WhatIfSettings holds simulation defaults.
type WhatIfSettings struct {
	Blend             float64 `yaml:"blend,omitempty"`
	ConflictThreshold float64 `yaml:"conflict_threshold,omitempty"`
}

// envOverrides are read from the environment and fill fields YAML left empty.
type envOverrides struct {
	OpenAIKey  string `env:"OPENAI_API_KEY"`
	QdrantKey  string `env:"QDRANT_API_KEY"`
	QdrantHost string `env:"NARRA_QDRANT_HOST"`
	LogLevel   string `env:"NARRA_LOG_LEVEL"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Analysis: AnalysisConfig{
			CompareEpsilon: services.DefaultCompareEpsilon,
			ImpactDepth:    services.DefaultImpactDepth,
			Cache:          true,
			Influence: InfluenceSettings{
				MaxDepth:      services.DefaultInfluenceDepth,
				MinLikelihood: services.DefaultMinLikelihood,
			},
			Themes: ThemeSettings{
				Iterations: services.DefaultClusterIterations,
				Epsilon:    services.DefaultClusterEpsilon,
				Seeding:    services.SeedingFarthest,
			},
			WhatIf: WhatIfSettings{
				Blend:             services.DefaultWhatIfBlend,
				ConflictThreshold: services.DefaultConflictThreshold,
			},
		},
	}
}

// Load loads configuration from the .narra directory in the given path.
func Load(basePath string) (*Config, error) {
	configFile := ConfigFilePath(basePath)

	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'narra worlds create' first)", configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = e.OpenAIKey
	}
	if c.Qdrant.APIKey == "" {
		c.Qdrant.APIKey = e.QdrantKey
	}
	if e.QdrantHost != "" {
		c.Qdrant.Host = e.QdrantHost
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	return nil
}

// Validate rejects settings the analytics cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	a := c.Analysis
	if a.CompareEpsilon < 0 {
		errs = append(errs, errors.New("analysis.compare_epsilon: must not be negative"))
	}
	if a.ImpactDepth < 0 || a.ImpactDepth > services.MaxImpactDepth {
		errs = append(errs, fmt.Errorf("analysis.impact_depth: must be within [0, %d]", services.MaxImpactDepth))
	}
	if a.Influence.MaxDepth < 0 || a.Influence.MaxDepth > services.MaxInfluenceDepth {
		errs = append(errs, fmt.Errorf("analysis.influence.max_depth: must be within [0, %d]", services.MaxInfluenceDepth))
	}
	if a.Influence.MinLikelihood < 0 || a.Influence.MinLikelihood > 1 {
		errs = append(errs, errors.New("analysis.influence.min_likelihood: must be within [0, 1]"))
	}
	for name, w := range a.Influence.Weights {
		if !entities.RelationType(name).IsValid() {
			errs = append(errs, fmt.Errorf("analysis.influence.weights: unknown relation type %q", name))
			continue
		}
		if w <= 0 || w > 1 {
			errs = append(errs, fmt.Errorf("analysis.influence.weights.%s: %v is outside (0, 1]", name, w))
		}
	}
	if a.Themes.Iterations < 0 {
		errs = append(errs, errors.New("analysis.themes.iterations: must not be negative"))
	}
	if a.Themes.Epsilon < 0 {
		errs = append(errs, errors.New("analysis.themes.epsilon: must not be negative"))
	}
	switch a.Themes.Seeding {
	case "", services.SeedingFarthest, services.SeedingRandom:
	default:
		errs = append(errs, fmt.Errorf("analysis.themes.seeding: unknown strategy %q", a.Themes.Seeding))
	}
	if a.WhatIf.Blend < 0 || a.WhatIf.Blend > 1 {
		errs = append(errs, errors.New("analysis.what_if.blend: must be within [0, 1]"))
	}
	if a.WhatIf.ConflictThreshold < 0 || a.WhatIf.ConflictThreshold > 1 {
		errs = append(errs, errors.New("analysis.what_if.conflict_threshold: must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RelationWeights returns the configured influence weights merged over the defaults.
func (a *AnalysisConfig) RelationWeights() map[entities.RelationType]float64 {
	weights := services.DefaultRelationWeights()
	for name, w := range a.Influence.Weights {
		weights[entities.RelationType(name)] = w
	}
	return weights
}

// ConfigDir returns the path to the .narra config directory.
func ConfigDir(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir)
}

// ConfigFilePath returns the path to the config file.
func ConfigFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultConfigFile)
}

// WorldsFilePath returns the path to the worlds file.
func WorldsFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultWorldsFile)
}

// Exists checks if a narra config exists in the given path.
func Exists(basePath string) bool {
	_, err := os.Stat(ConfigFilePath(basePath))
	return err == nil
}

// SanitizeWorldName converts a world name to a valid collection suffix.
func SanitizeWorldName(name string) string {
	name = strings.ToLower(name)

	// Replace spaces and hyphens with underscores
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	name = reNonAlphanumeric.ReplaceAllString(name, "")
	name = reMultipleUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if name == "" {
		return "default"
	}

	return name
}

// GenerateCollectionName creates an embedding index collection name for a world.
func GenerateCollectionName(worldName string) string {
	return "narra_" + SanitizeWorldName(worldName)
}

// SQLitePathForWorld returns the SQLite database path for a given world.
func SQLitePathForWorld(basePath, worldName string) string {
	return filepath.Join(WorldDir(basePath, worldName), DefaultDatabaseFile)
}

// WorldDir returns the directory path for a given world.
func WorldDir(basePath, worldName string) string {
	return filepath.Join(basePath, DefaultConfigDir, "worlds", SanitizeWorldName(worldName))
}
