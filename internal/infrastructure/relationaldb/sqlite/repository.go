// Package sqlite provides the SQLite narrative repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/infrastructure/config"
)

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// generateUUID returns a new UUID string.
func generateUUID() string {
	return uuid.New().String()
}

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

var (
	_ ports.NarrativeReader = (*Repository)(nil)
	_ ports.NarrativeWriter = (*Repository)(nil)
	_ ports.DecisionStore   = (*Repository)(nil)
)

// Repository implements the narrative ports using SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

// NewRepository opens the SQLite database at cfg.Path.
func NewRepository(cfg config.SQLiteConfig) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := cfg.Path
	if cfg.Path != memoryPath {
		// Pragmas in the DSN apply to every pooled connection.
		dsn = "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "opening sqlite database", goerr.V("path", cfg.Path))
	}
	if cfg.Path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	return &Repository{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

// EnsureSchema creates the database schema if it doesn't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	-- Entities (characters, locations, events, scenes, knowledge, factions, items)
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		refs TEXT NOT NULL DEFAULT '[]',
		sequence INTEGER NOT NULL DEFAULT 0,
		occurred_at TEXT,
		embedding TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

	-- Knowledge ledger (append-only)
	CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		fact_ref TEXT NOT NULL DEFAULT '',
		fact TEXT NOT NULL,
		embedding TEXT,
		certainty TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		source_character_id TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL DEFAULT '',
		learned_at TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_character ON knowledge(character_id);
	CREATE INDEX IF NOT EXISTS idx_knowledge_target ON knowledge(target_id);
	CREATE INDEX IF NOT EXISTS idx_knowledge_fact_ref ON knowledge(fact_ref);

	-- Relationship edges
	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		type TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		bidirectional INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type);

	-- Perceptions (append-only history per observer/target pair)
	CREATE TABLE IF NOT EXISTS perceptions (
		id TEXT PRIMARY KEY,
		observer_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		embedding TEXT,
		feelings TEXT NOT NULL DEFAULT '',
		tension INTEGER,
		history TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_perceptions_observer ON perceptions(observer_id);
	CREATE INDEX IF NOT EXISTS idx_perceptions_target ON perceptions(target_id);

	-- Scenes and their participants
	CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS scene_participants (
		scene_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (scene_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_scene_participants_entity ON scene_participants(entity_id);

	-- Universe facts and the entities they are linked to
	CREATE TABLE IF NOT EXISTS universe_facts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		enforcement TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fact_applies_to (
		fact_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		PRIMARY KEY (fact_id, entity_id)
	);

	-- Arc snapshots (append-only, strictly increasing per entity)
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		embedding TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_entity ON snapshots(entity_id, recorded_at);

	CREATE TABLE IF NOT EXISTS protected_entities (
		entity_id TEXT PRIMARY KEY,
		protected_at TEXT NOT NULL
	);

	-- Authoring decisions and their deferred implications
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		affected TEXT NOT NULL DEFAULT '[]',
		implications_traced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS deferred_implications (
		decision_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		deferred_at TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (decision_id, entity_id)
	);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "creating schema")
	}
	for _, table := range []string{"knowledge", "perceptions"} {
		if err := r.ensureSequence(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// ensureSequence adds the append sequence to ledgers created without it,
// numbering existing rows in rowid order.
func (r *Repository) ensureSequence(ctx context.Context, table string) error {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = 'seq'`, table).Scan(&n); err != nil {
		return goerr.Wrap(err, "inspecting ledger", goerr.V("table", table))
	}
	if n == 0 {
		if _, err := r.db.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN seq INTEGER NOT NULL DEFAULT 0`); err != nil {
			return goerr.Wrap(err, "adding ledger sequence", goerr.V("table", table))
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE `+table+` SET seq = rowid`); err != nil {
			return goerr.Wrap(err, "numbering ledger", goerr.V("table", table))
		}
	}
	_, err := r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+table+`_seq ON `+table+`(seq)`)
	if err != nil {
		return goerr.Wrap(err, "indexing ledger sequence", goerr.V("table", table))
	}
	return nil
}

// Counts returns the number of rows per narrative table.
func (r *Repository) Counts(ctx context.Context) (map[string]int, error) {
	tables := []string{"entities", "knowledge", "relationships", "perceptions", "scenes", "universe_facts", "snapshots"}
	out := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		// table names come from the fixed list above
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, goerr.Wrap(err, "counting rows", goerr.V("table", table))
		}
		out[table] = n
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, goerr.Wrap(err, "parsing stored time", goerr.V("value", s))
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeJSON marshals v for a TEXT column.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "marshaling column")
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return goerr.Wrap(err, "unmarshaling column")
	}
	return nil
}

// encodeVector stores an empty vector as NULL.
func encodeVector(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func decodeVector(s sql.NullString) ([]float32, error) {
	if !s.Valid {
		return nil, nil
	}
	var v []float32
	if err := decodeJSON(s.String, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// placeholders returns "?, ?, ..." for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs[T ~string](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return args
}
