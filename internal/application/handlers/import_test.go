package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/mocks"
	"github.com/ersonp/narra-core/internal/domain/services"
)

const worldYAML = `
entities:
  - id: character:alice
    name: Alice
  - id: character:bob
    name: Bob
relationships:
  - from: character:alice
    to: character:bob
    type: family
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newImportHandler(store *mocks.Store) *ImportHandler {
	return NewImportHandler(services.NewImportService(store, store, nil))
}

func TestImportHandler_Handle_YAMLFile(t *testing.T) {
	store := mocks.NewStore()
	handler := newImportHandler(store)

	result, err := handler.Handle(context.Background(), writeFile(t, "world.yaml", worldYAML), ImportOptions{
		OnConflict: services.ConflictOverwrite,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)

	_, err = store.GetEntity(context.Background(), "character:bob")
	require.NoError(t, err)
}

func TestImportHandler_Handle_CSVFile(t *testing.T) {
	handler := newImportHandler(mocks.NewStore())
	content := "character,target,fact,certainty,learned_at\n" +
		"character:bob,item:crown,The crown is fake,knows,2026-03-01T12:00:00Z\n"

	result, err := handler.Handle(context.Background(), writeFile(t, "ledger.csv", content), ImportOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
}

func TestImportHandler_Handle_ExplicitFormat(t *testing.T) {
	handler := newImportHandler(mocks.NewStore())
	path := writeFile(t, "world.txt", `{"entities": [{"id": "location:vault", "name": "Vault"}]}`)

	result, err := handler.Handle(context.Background(), path, ImportOptions{Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	_, err = handler.Handle(context.Background(), path, ImportOptions{Format: "auto"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestImportHandler_Handle_DryRun(t *testing.T) {
	store := mocks.NewStore()
	handler := newImportHandler(store)

	result, err := handler.Handle(context.Background(), writeFile(t, "world.yml", worldYAML), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)

	_, err = store.GetEntity(context.Background(), "character:alice")
	require.Error(t, err)
}

func TestImportHandler_Handle_Errors(t *testing.T) {
	handler := newImportHandler(mocks.NewStore())

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		opts    ImportOptions
		errText string
	}{
		{
			name:    "unknown extension",
			path:    func(t *testing.T) string { return writeFile(t, "notes.md", "# notes") },
			errText: "unsupported format",
		},
		{
			name:    "unknown format",
			path:    func(t *testing.T) string { return writeFile(t, "world.yaml", worldYAML) },
			opts:    ImportOptions{Format: "xml"},
			errText: "unsupported format",
		},
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			errText: "opening file",
		},
		{
			name:    "malformed",
			path:    func(t *testing.T) string { return writeFile(t, "world.yaml", "entities: [unclosed") },
			errText: "parsing file",
		},
		{
			name: "embedding without embedder",
			path: func(t *testing.T) string { return writeFile(t, "world.yaml", worldYAML) },
			opts: ImportOptions{Embed: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.Handle(context.Background(), tt.path(t), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestImportHandler_Handle_EmptyFile(t *testing.T) {
	handler := newImportHandler(mocks.NewStore())

	result, err := handler.Handle(context.Background(), writeFile(t, "empty.yaml", ""), ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Empty(t, result.Errors)
}
