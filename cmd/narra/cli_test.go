package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sagaYAML = `
entities:
  - id: character:alice
    name: Alice
    embedding: [1, 0]
  - id: character:bob
    name: Bob
    embedding: [0, 1]
  - id: location:vault
    name: Vault
    embedding: [1, 0.1]
knowledge:
  - character: character:alice
    target: location:vault
    fact_ref: vault-empty
    fact: The vault is empty
    embedding: [0.9, 0.1]
    certainty: knows
    method: witnessed
    learned_at: 2026-03-01T12:30:00Z
relationships:
  - from: character:alice
    to: character:bob
    type: family
perceptions:
  - observer: character:bob
    target: character:alice
    text: Alice is loyal
    embedding: [0.6, 0.8]
    recorded_at: 2026-03-02T09:00:00Z
`

// execute runs the CLI with args and returns what it printed to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	return out
}

// newWorkspace switches into an empty directory with one loaded world.
func newWorkspace(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NARRA_LOG_LEVEL", "")
	t.Setenv("NARRA_QDRANT_HOST", "")

	mustExecute(t, "worlds", "create", "saga", "-d", "Test saga")

	path := filepath.Join(dir, "saga.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sagaYAML), 0o644))
	out := mustExecute(t, "-w", "saga", "load", path)
	require.Contains(t, out, "Loaded: 6 items")
}

func TestCLI_RequiresWorld(t *testing.T) {
	newWorkspace(t)

	_, err := execute(t, "irony")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world is required")

	_, err = execute(t, "-w", "unknown", "irony")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `world "unknown" not found`)
}

func TestCLI_RejectsUnknownOutputFormat(t *testing.T) {
	newWorkspace(t)

	_, err := execute(t, "-w", "saga", "-o", "xml", "irony")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestCLI_Load(t *testing.T) {
	newWorkspace(t)

	path := filepath.Join(t.TempDir(), "again.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sagaYAML), 0o644))

	out := mustExecute(t, "-w", "saga", "load", path, "--dry-run")
	assert.Contains(t, out, "Dry run:")

	_, err := execute(t, "-w", "saga", "load", path, "--on-conflict", "merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --on-conflict")
}

func TestCLI_Analyses(t *testing.T) {
	newWorkspace(t)

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{"irony", []string{"irony"}, "informed_id: character:alice"},
		{"perception gap", []string{"perception", "gap", "character:bob", "character:alice"}, "observer_id: character:bob"},
		{"perception matrix", []string{"perception", "matrix", "character:alice"}, "target_id: character:alice"},
		{"influence", []string{"influence", "character:alice"}, "character:bob"},
		{"centrality", []string{"centrality", "-m", "closeness"}, "role: hub"},
		{"situation", []string{"situation"}, "reveal scene"},
		{"themes", []string{"themes", "--k", "1"}, "clusters:"},
		{"validate", []string{"validate"}, "checked: 3"},
		{"validate one", []string{"validate", "character:alice"}, "checked: 1"},
		{"investigate", []string{"investigate", "character:alice"}, "character:alice"},
		{"impact", []string{"impact", "character:alice", "-d", "Alice leaves"}, "entity_id: character:alice"},
		{"similar", []string{"similar", "character:alice", "--k", "1"}, "entity_id: location:vault"},
		{"midpoint", []string{"midpoint", "character:alice", "character:bob", "--k", "1"}, "source: scan"},
		{"whatif", []string{"whatif", "character:bob", "--fact-ref", "vault-empty"}, "character_id: character:bob"},
		{"arc record", []string{"arc", "record", "character:alice", "--at", "2026-03-03T00:00:00Z"}, "dimensions: 2"},
		{"stats", []string{"stats"}, "entities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustExecute(t, append([]string{"-w", "saga"}, tt.args...)...)
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestCLI_AnalysisErrors(t *testing.T) {
	newWorkspace(t)

	tests := []struct {
		name    string
		args    []string
		errText string
	}{
		{"malformed id", []string{"arc", "drift", "alice"}, "invalid entity"},
		{"unknown entity", []string{"impact", "character:nobody"}, "not found"},
		{"bad window", []string{"arc", "compare", "character:alice", "character:bob", "--window", "soon"}, "invalid window"},
		{"bad time", []string{"arc", "record", "character:alice", "--at", "yesterday"}, "invalid --at"},
		{"whatif without fact", []string{"whatif", "character:bob"}, "--fact-ref or --fact"},
		{"no index", []string{"index", "sync"}, "no embedding index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"-w", "saga"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestCLI_ProtectionAndDecisions(t *testing.T) {
	newWorkspace(t)

	out := mustExecute(t, "-w", "saga", "protect", "character:alice")
	assert.Contains(t, out, "character:alice: protected=true")

	out = mustExecute(t, "-w", "saga", "-o", "json", "impact", "character:bob")
	assert.Contains(t, out, `"character:alice"`)

	out = mustExecute(t, "-w", "saga", "-o", "json", "decisions", "record", "Bob betrays Alice",
		"--reasoning", "Raise the stakes", "--affected", "character:alice,character:bob")
	var decision struct {
		ID       string   `json:"id"`
		Affected []string `json:"affected_entities"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	require.NotEmpty(t, decision.ID)
	assert.Equal(t, []string{"character:alice", "character:bob"}, decision.Affected)

	mustExecute(t, "-w", "saga", "decisions", "defer", decision.ID,
		"--followup", "character:bob=Revisit Bob's motive, and his alibi")

	var pending []struct {
		EntityID    string `json:"entity_id"`
		Description string `json:"description"`
		Resolved    bool   `json:"resolved"`
	}
	out = mustExecute(t, "-w", "saga", "-o", "json", "decisions", "list")
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "character:bob", pending[0].EntityID)
	assert.Equal(t, "Revisit Bob's motive, and his alibi", pending[0].Description)

	out = mustExecute(t, "-w", "saga", "decisions", "resolve", decision.ID, "character:bob")
	assert.Contains(t, out, "Resolved character:bob")

	out = mustExecute(t, "-w", "saga", "-o", "json", "decisions", "list")
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	assert.Empty(t, pending)

	out = mustExecute(t, "-w", "saga", "-o", "json", "decisions", "list", "--all")
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Resolved)

	out = mustExecute(t, "-w", "saga", "unprotect", "character:alice")
	assert.Contains(t, out, "character:alice: protected=false")
}

func TestParseFollowups(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    map[string]string
		wantErr string
	}{
		{
			name: "splits on first equals",
			raw:  []string{"character:bob=a=b", " item:crown = Melt it "},
			want: map[string]string{"character:bob": "a=b", "item:crown": "Melt it"},
		},
		{name: "missing separator", raw: []string{"character:bob"}, wantErr: "expected ENTITY=TEXT"},
		{name: "empty text", raw: []string{"character:bob="}, wantErr: "expected ENTITY=TEXT"},
		{name: "duplicate", raw: []string{"character:bob=a", "character:bob=b"}, wantErr: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFollowups(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
