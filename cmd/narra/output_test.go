package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    string   `json:"entity_id"`
	Score float64  `json:"score"`
	Tags  []string `json:"tags"`
	Note  string   `json:"note,omitempty"`
}

func TestRender(t *testing.T) {
	report := sample{ID: "character:alice", Score: 0.5, Tags: []string{"a", "123"}}

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{
			name:   "yaml keeps json names in order",
			format: formatYAML,
			want:   "entity_id: character:alice\nscore: 0.5\ntags:\n  - a\n  - \"123\"\n",
		},
		{
			name:   "json is indented",
			format: formatJSON,
			want:   "{\n  \"entity_id\": \"character:alice\",\n  \"score\": 0.5,\n  \"tags\": [\n    \"a\",\n    \"123\"\n  ]\n}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, render(&buf, tt.format, report))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestRender_EmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatYAML, []string{}))
	assert.Equal(t, "[]\n", buf.String())
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("yaml"))
	assert.NoError(t, validateFormat("json"))
	assert.Error(t, validateFormat("text"))
}
