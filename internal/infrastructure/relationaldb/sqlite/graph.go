package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// SaveRelationship saves or updates a relationship edge.
func (r *Repository) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	if rel.ID == "" {
		rel.ID = generateUUID()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = timeNow()
	}

	query := `
		INSERT INTO relationships (id, from_id, to_id, type, subtype, label, bidirectional, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_id = excluded.from_id,
			to_id = excluded.to_id,
			type = excluded.type,
			subtype = excluded.subtype,
			label = excluded.label,
			bidirectional = excluded.bidirectional
	`
	_, err := r.db.ExecContext(ctx, query,
		rel.ID,
		string(rel.FromID),
		string(rel.ToID),
		string(rel.Type),
		rel.Subtype,
		rel.Label,
		rel.Bidirectional,
		formatTime(rel.CreatedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "saving relationship", goerr.V("id", rel.ID))
	}
	return nil
}

// ListRelationships returns matching edges ordered by ID.
func (r *Repository) ListRelationships(ctx context.Context, filter ports.RelationshipFilter) ([]entities.Relationship, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		where = append(where, `(from_id = ? OR to_id = ?)`)
		args = append(args, string(filter.EntityID), string(filter.EntityID))
	}
	if len(filter.Types) > 0 {
		where = append(where, `type IN (`+placeholders(len(filter.Types))+`)`)
		args = append(args, stringArgs(filter.Types)...)
	}

	query := `SELECT id, from_id, to_id, type, subtype, label, bidirectional, created_at FROM relationships` +
		whereClause(where) + ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying relationships")
	}
	defer rows.Close()

	result := make([]entities.Relationship, 0, 16)
	for rows.Next() {
		var (
			rel               entities.Relationship
			from, to, typ, at string
		)
		if err := rows.Scan(&rel.ID, &from, &to, &typ, &rel.Subtype, &rel.Label, &rel.Bidirectional, &at); err != nil {
			return nil, goerr.Wrap(err, "scanning relationship")
		}
		rel.FromID = entities.EntityID(from)
		rel.ToID = entities.EntityID(to)
		rel.Type = entities.RelationType(typ)
		if rel.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

// SaveScene saves a scene and replaces its participant list.
func (r *Repository) SaveScene(ctx context.Context, scene *entities.Scene) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenes (id, title, event_id, location_id, occurred_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			event_id = excluded.event_id,
			location_id = excluded.location_id,
			occurred_at = excluded.occurred_at`,
		string(scene.ID), scene.Title, string(scene.EventID), string(scene.LocationID), formatTime(scene.OccurredAt))
	if err != nil {
		return goerr.Wrap(err, "saving scene", goerr.V("id", scene.ID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scene_participants WHERE scene_id = ?`, string(scene.ID)); err != nil {
		return goerr.Wrap(err, "clearing scene participants", goerr.V("id", scene.ID))
	}
	for i, p := range scene.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scene_participants (scene_id, entity_id, position) VALUES (?, ?, ?)`,
			string(scene.ID), string(p), i); err != nil {
			return goerr.Wrap(err, "saving scene participant", goerr.V("id", scene.ID), goerr.V("participant", p))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "committing scene", goerr.V("id", scene.ID))
	}
	return nil
}

// ListScenesByParticipants returns scenes in which every id participates,
// ordered by OccurredAt, then ID. No ids returns every scene.
func (r *Repository) ListScenesByParticipants(ctx context.Context, ids []entities.EntityID) ([]entities.Scene, error) {
	query := `SELECT id, title, event_id, location_id, occurred_at FROM scenes`
	var args []any
	if len(ids) > 0 {
		query += `
			WHERE id IN (
				SELECT scene_id FROM scene_participants
				WHERE entity_id IN (` + placeholders(len(ids)) + `)
				GROUP BY scene_id
				HAVING COUNT(DISTINCT entity_id) = ?
			)`
		args = append(stringArgs(ids), distinctCount(ids))
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying scenes")
	}
	var scenes []entities.Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, goerr.Wrap(err, "iterating scenes")
	}
	rows.Close()

	// Participants are loaded after the scene cursor is closed; :memory:
	// databases hold a single connection.
	for i := range scenes {
		if scenes[i].Participants, err = r.sceneParticipants(ctx, scenes[i].ID); err != nil {
			return nil, err
		}
	}
	return scenes, nil
}

// GetScene returns the participation view of a scene.
func (r *Repository) GetScene(ctx context.Context, id entities.EntityID) (*entities.Scene, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, event_id, location_id, occurred_at FROM scenes WHERE id = ?`, string(id))
	s, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get scene", string(id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "getting scene", goerr.V("id", id))
	}
	if s.Participants, err = r.sceneParticipants(ctx, id); err != nil {
		return nil, err
	}
	return s, nil
}

func scanScene(s scanner) (*entities.Scene, error) {
	var (
		scene                   entities.Scene
		id, event, location, at string
	)
	if err := s.Scan(&id, &scene.Title, &event, &location, &at); err != nil {
		return nil, err
	}
	scene.ID = entities.EntityID(id)
	scene.EventID = entities.EntityID(event)
	scene.LocationID = entities.EntityID(location)
	var err error
	if scene.OccurredAt, err = parseTime(at); err != nil {
		return nil, err
	}
	return &scene, nil
}

func (r *Repository) sceneParticipants(ctx context.Context, sceneID entities.EntityID) ([]entities.EntityID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id FROM scene_participants WHERE scene_id = ? ORDER BY position`, string(sceneID))
	if err != nil {
		return nil, goerr.Wrap(err, "querying scene participants", goerr.V("scene", sceneID))
	}
	defer rows.Close()

	ids := []entities.EntityID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "scanning scene participant")
		}
		ids = append(ids, entities.EntityID(id))
	}
	return ids, rows.Err()
}

func distinctCount(ids []entities.EntityID) int {
	seen := make(map[entities.EntityID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// SaveFact saves a universe fact and replaces its entity links.
func (r *Repository) SaveFact(ctx context.Context, fact *entities.UniverseFact) error {
	if fact.ID == "" {
		fact.ID = generateUUID()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = timeNow()
	}
	categories, err := encodeJSON(nonNil(fact.Categories))
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO universe_facts (id, title, description, categories, enforcement, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			categories = excluded.categories,
			enforcement = excluded.enforcement`,
		fact.ID, fact.Title, fact.Description, categories, string(fact.Enforcement), formatTime(fact.CreatedAt))
	if err != nil {
		return goerr.Wrap(err, "saving fact", goerr.V("id", fact.ID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fact_applies_to WHERE fact_id = ?`, fact.ID); err != nil {
		return goerr.Wrap(err, "clearing fact links", goerr.V("id", fact.ID))
	}
	for _, id := range fact.AppliesTo {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fact_applies_to (fact_id, entity_id) VALUES (?, ?)`,
			fact.ID, string(id)); err != nil {
			return goerr.Wrap(err, "saving fact link", goerr.V("id", fact.ID), goerr.V("entity", id))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "committing fact", goerr.V("id", fact.ID))
	}
	return nil
}

// ListFacts returns facts linked to filter.EntityID or sharing one of
// filter.Categories, ordered by ID. A zero filter returns every fact.
func (r *Repository) ListFacts(ctx context.Context, filter ports.FactFilter) ([]entities.UniverseFact, error) {
	var (
		conds []string
		args  []any
	)
	if filter.EntityID != "" {
		conds = append(conds, `id IN (SELECT fact_id FROM fact_applies_to WHERE entity_id = ?)`)
		args = append(args, string(filter.EntityID))
	}
	if len(filter.Categories) > 0 {
		conds = append(conds, `EXISTS (SELECT 1 FROM json_each(universe_facts.categories) WHERE value IN (`+
			placeholders(len(filter.Categories))+`))`)
		args = append(args, stringArgs(filter.Categories)...)
	}

	query := `SELECT id, title, description, categories, enforcement, created_at FROM universe_facts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` OR `)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying facts")
	}
	var facts []entities.UniverseFact
	for rows.Next() {
		var (
			f                           entities.UniverseFact
			categories, enforcement, at string
		)
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &categories, &enforcement, &at); err != nil {
			rows.Close()
			return nil, goerr.Wrap(err, "scanning fact")
		}
		f.Enforcement = entities.Enforcement(enforcement)
		if err := decodeJSON(categories, &f.Categories); err != nil {
			rows.Close()
			return nil, err
		}
		if len(f.Categories) == 0 {
			f.Categories = nil
		}
		if f.CreatedAt, err = parseTime(at); err != nil {
			rows.Close()
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, goerr.Wrap(err, "iterating facts")
	}
	rows.Close()

	for i := range facts {
		if facts[i].AppliesTo, err = r.factLinks(ctx, facts[i].ID); err != nil {
			return nil, err
		}
	}
	return facts, nil
}

func (r *Repository) factLinks(ctx context.Context, factID string) ([]entities.EntityID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id FROM fact_applies_to WHERE fact_id = ? ORDER BY entity_id`, factID)
	if err != nil {
		return nil, goerr.Wrap(err, "querying fact links", goerr.V("fact", factID))
	}
	defer rows.Close()

	var ids []entities.EntityID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "scanning fact link")
		}
		ids = append(ids, entities.EntityID(id))
	}
	return ids, rows.Err()
}
