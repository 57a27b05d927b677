package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/infrastructure/config"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NARRA_LOG_LEVEL", "")
	return dir
}

func TestWorldsCreate_InitializesConfig(t *testing.T) {
	dir := chdirTemp(t)

	out := mustExecute(t, "worlds", "create", "My Saga", "-d", "A test world")

	assert.Contains(t, out, "Initialized narra in")
	assert.Contains(t, out, `Created world "My Saga" with collection "narra_my_saga"`)
	assert.True(t, config.Exists(dir))
	assert.FileExists(t, config.SQLitePathForWorld(dir, "My Saga"))

	worlds, err := config.LoadWorlds(dir)
	require.NoError(t, err)
	entry, err := worlds.Get("My Saga")
	require.NoError(t, err)
	assert.Equal(t, "narra_my_saga", entry.Collection)
	assert.Equal(t, "A test world", entry.Description)
}

func TestWorldsCreate_AddsToExistingConfig(t *testing.T) {
	dir := chdirTemp(t)

	mustExecute(t, "worlds", "create", "first")
	out := mustExecute(t, "worlds", "create", "second")

	assert.NotContains(t, out, "Initialized")
	worlds, err := config.LoadWorlds(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, worlds.Names())
}

func TestWorldsCreate_Duplicate(t *testing.T) {
	chdirTemp(t)

	mustExecute(t, "worlds", "create", "saga")
	_, err := execute(t, "worlds", "create", "saga")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `world "saga" already exists`)
}

func TestWorldsList(t *testing.T) {
	chdirTemp(t)

	out := mustExecute(t, "worlds", "list")
	assert.Contains(t, out, "No worlds configured.")

	mustExecute(t, "worlds", "create", "beta", "-d", "Second")
	mustExecute(t, "worlds", "create", "alpha", "-d", "First")

	out = mustExecute(t, "worlds")
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `(?s)alpha\s+narra_alpha\s+\d{4}-\d{2}-\d{2}\s+First.*beta\s+narra_beta\s+\d{4}-\d{2}-\d{2}\s+Second`, out)
}

func TestWorldsDelete(t *testing.T) {
	dir := chdirTemp(t)

	mustExecute(t, "worlds", "create", "empty")
	out := mustExecute(t, "worlds", "delete", "empty")

	assert.Contains(t, out, `Deleted world "empty"`)
	assert.NoDirExists(t, config.WorldDir(dir, "empty"))
	worlds, err := config.LoadWorlds(dir)
	require.NoError(t, err)
	assert.False(t, worlds.Exists("empty"))
}

func TestWorldsDelete_RequiresForceWhenPopulated(t *testing.T) {
	dir := chdirTemp(t)
	mustExecute(t, "worlds", "create", "saga")

	path := filepath.Join(dir, "saga.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sagaYAML), 0o644))
	mustExecute(t, "-w", "saga", "load", path)

	_, err := execute(t, "worlds", "delete", "saga")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --force to delete")
	assert.DirExists(t, config.WorldDir(dir, "saga"))

	mustExecute(t, "worlds", "delete", "saga", "--force")
	assert.NoDirExists(t, config.WorldDir(dir, "saga"))
}

func TestWorldsDelete_NotFound(t *testing.T) {
	chdirTemp(t)
	mustExecute(t, "worlds", "create", "saga")

	_, err := execute(t, "worlds", "delete", "other")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `world "other" not found`)
}

func TestWorldsDelete_WithoutConfig(t *testing.T) {
	chdirTemp(t)

	_, err := execute(t, "worlds", "delete", "saga")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}
