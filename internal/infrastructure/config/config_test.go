package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

func TestSanitizeWorldName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple lowercase", input: "myworld", expected: "myworld"},
		{name: "uppercase converted", input: "MyWorld", expected: "myworld"},
		{name: "spaces to underscores", input: "my world", expected: "my_world"},
		{name: "hyphens to underscores", input: "my-world", expected: "my_world"},
		{name: "special characters removed", input: "my@world!", expected: "myworld"},
		{name: "consecutive underscores collapsed", input: "my--world", expected: "my_world"},
		{name: "leading trailing underscores trimmed", input: "-my-world-", expected: "my_world"},
		{name: "empty string returns default", input: "", expected: "default"},
		{name: "only special chars returns default", input: "!!!", expected: "default"},
		{name: "complex mixed input", input: "Iron-Throne (Book 1)", expected: "iron_throne_book_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeWorldName(tt.input))
		})
	}
}

func TestPaths(t *testing.T) {
	base := "/home/user/project"
	assert.Equal(t, "/home/user/project/.narra", ConfigDir(base))
	assert.Equal(t, "/home/user/project/.narra/config.yaml", ConfigFilePath(base))
	assert.Equal(t, "/home/user/project/.narra/worlds.yaml", WorldsFilePath(base))
	assert.Equal(t, "/home/user/project/.narra/worlds/iron_throne/narra.db", SQLitePathForWorld(base, "Iron Throne"))
	assert.Equal(t, "narra_iron_throne", GenerateCollectionName("Iron-Throne!"))
	assert.Equal(t, "narra_default", GenerateCollectionName(""))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.False(t, cfg.Qdrant.Enabled)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.InDelta(t, 0.02, cfg.Analysis.CompareEpsilon, 1e-12)
	assert.Equal(t, 3, cfg.Analysis.Influence.MaxDepth)
	assert.Equal(t, "farthest", cfg.Analysis.Themes.Seeding)
	assert.InDelta(t, 0.15, cfg.Analysis.WhatIf.Blend, 1e-12)
	assert.True(t, cfg.Analysis.Cache)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "config file not found")
	})

	t.Run("default file with env overrides", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, WriteDefault(dir))
		assert.True(t, Exists(dir))
		assert.Error(t, WriteDefault(dir))

		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("NARRA_LOG_LEVEL", "debug")
		t.Setenv("NARRA_QDRANT_HOST", "qdrant.internal")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
		assert.Equal(t, 300, cfg.Analysis.Themes.Iterations)
	})

	t.Run("yaml key wins over env", func(t *testing.T) {
		dir := t.TempDir()
		cfg := Default()
		cfg.Embedder.APIKey = "from-file"
		require.NoError(t, Write(dir, cfg))
		t.Setenv("OPENAI_API_KEY", "from-env")

		got, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "from-file", got.Embedder.APIKey)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(ConfigDir(dir), 0755))
		data := []byte("analysis:\n  influence:\n    weights:\n      family: 1.5\n")
		require.NoError(t, os.WriteFile(filepath.Join(ConfigDir(dir), DefaultConfigFile), data, 0644))

		_, err := Load(dir)
		assert.ErrorContains(t, err, "analysis.influence.weights.family")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero weight", func(c *Config) { c.Analysis.Influence.Weights = map[string]float64{"social": 0} }, "outside (0, 1]"},
		{"unknown relation", func(c *Config) { c.Analysis.Influence.Weights = map[string]float64{"nemesis": 0.5} }, "unknown relation type"},
		{"depth too large", func(c *Config) { c.Analysis.Influence.MaxDepth = 9 }, "max_depth"},
		{"impact depth", func(c *Config) { c.Analysis.ImpactDepth = -1 }, "impact_depth"},
		{"seeding", func(c *Config) { c.Analysis.Themes.Seeding = "kmeans++" }, "seeding"},
		{"blend", func(c *Config) { c.Analysis.WhatIf.Blend = 2 }, "blend"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRelationWeights(t *testing.T) {
	a := Default().Analysis
	a.Influence.Weights = map[string]float64{"antagonistic": 0.5}
	w := a.RelationWeights()
	assert.InDelta(t, 0.5, w[entities.RelationAntagonistic], 1e-12)
	assert.InDelta(t, 0.9, w[entities.RelationFamily], 1e-12)
}

func TestWorldsConfig(t *testing.T) {
	dir := t.TempDir()

	empty, err := LoadWorlds(dir)
	require.NoError(t, err)
	assert.Empty(t, empty.Worlds)
	assert.False(t, WorldsExists(dir))
	_, err = empty.Get("any")
	assert.ErrorContains(t, err, "no worlds configured")

	w := &WorldsConfig{}
	w.Add("beta", WorldEntry{Collection: GenerateCollectionName("beta")})
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w.Add("alpha", WorldEntry{Collection: GenerateCollectionName("alpha"), Description: "first", CreatedAt: created})
	require.NoError(t, w.Save(dir))
	assert.True(t, WorldsExists(dir))

	loaded, err := LoadWorlds(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, loaded.Names())
	assert.True(t, loaded.Exists("alpha"))

	var order []string
	for name, entry := range loaded.All() {
		order = append(order, name)
		if name == "alpha" {
			assert.True(t, created.Equal(entry.CreatedAt))
		} else {
			assert.True(t, entry.CreatedAt.IsZero())
		}
	}
	assert.Equal(t, []string{"alpha", "beta"}, order)

	coll, err := loaded.GetCollection("alpha")
	require.NoError(t, err)
	assert.Equal(t, "narra_alpha", coll)

	_, err = loaded.Get("gamma")
	assert.ErrorContains(t, err, "available: alpha, beta")

	loaded.Remove("alpha")
	assert.False(t, loaded.Exists("alpha"))
}
