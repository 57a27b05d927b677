package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
)

const entityColumns = `id, type, name, description, categories, refs, sequence, occurred_at, embedding, created_at, updated_at`

// SaveEntity saves or updates an entity. A zero CreatedAt is set to now.
func (r *Repository) SaveEntity(ctx context.Context, entity *entities.Entity) error {
	if entity.Type == "" {
		entity.Type = entity.ID.Type()
	}
	now := timeNow()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	categories, err := encodeJSON(nonNil(entity.Categories))
	if err != nil {
		return err
	}
	refs, err := encodeJSON(nonNil(entity.Refs))
	if err != nil {
		return err
	}
	emb, err := encodeVector(entity.Embedding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			description = excluded.description,
			categories = excluded.categories,
			refs = excluded.refs,
			sequence = excluded.sequence,
			occurred_at = excluded.occurred_at,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		string(entity.ID),
		string(entity.Type),
		entity.Name,
		entity.Description,
		categories,
		refs,
		entity.Sequence,
		nullTime(entity.OccurredAt),
		emb,
		formatTime(entity.CreatedAt),
		formatTime(entity.UpdatedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "saving entity", goerr.V("id", entity.ID))
	}
	return nil
}

// GetEntity finds an entity by its ID.
func (r *Repository) GetEntity(ctx context.Context, id entities.EntityID) (*entities.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, string(id))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get entity", string(id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "getting entity", goerr.V("id", id))
	}
	return e, nil
}

// GetEmbedding returns the entity's current vector, nil when it has none.
func (r *Repository) GetEmbedding(ctx context.Context, id entities.EntityID) ([]float32, error) {
	var raw sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT embedding FROM entities WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get embedding", string(id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "getting embedding", goerr.V("id", id))
	}
	return decodeVector(raw)
}

// ListEntitiesByType lists entities of the given types ordered by ID.
// No types means every entity.
func (r *Repository) ListEntitiesByType(ctx context.Context, types ...entities.EntityType) ([]entities.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(types) > 0 {
		query += ` WHERE type IN (` + placeholders(len(types)) + `)`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, stringArgs(types)...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying entities")
	}
	defer rows.Close()

	result := make([]entities.Entity, 0, 16)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "scanning entity")
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func scanEntity(s scanner) (*entities.Entity, error) {
	var (
		e                    entities.Entity
		id, typ              string
		categories, refs     string
		occurred, emb        sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&id, &typ, &e.Name, &e.Description, &categories, &refs, &e.Sequence,
		&occurred, &emb, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.ID = entities.EntityID(id)
	e.Type = entities.EntityType(typ)

	var err error
	if err = decodeJSON(categories, &e.Categories); err != nil {
		return nil, err
	}
	if err = decodeJSON(refs, &e.Refs); err != nil {
		return nil, err
	}
	if e.OccurredAt, err = parseNullTime(occurred); err != nil {
		return nil, err
	}
	if e.Embedding, err = decodeVector(emb); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if len(e.Categories) == 0 {
		e.Categories = nil
	}
	if len(e.Refs) == 0 {
		e.Refs = nil
	}
	return &e, nil
}

// SetProtected marks or unmarks an entity as requiring explicit review on change.
func (r *Repository) SetProtected(ctx context.Context, id entities.EntityID, protected bool) error {
	var err error
	if protected {
		_, err = r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO protected_entities (entity_id, protected_at) VALUES (?, ?)`,
			string(id), formatTime(timeNow()))
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM protected_entities WHERE entity_id = ?`, string(id))
	}
	if err != nil {
		return goerr.Wrap(err, "setting protection", goerr.V("id", id), goerr.V("protected", protected))
	}
	return nil
}

// ListProtected returns protected entity IDs in order.
func (r *Repository) ListProtected(ctx context.Context) ([]entities.EntityID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_id FROM protected_entities ORDER BY entity_id`)
	if err != nil {
		return nil, goerr.Wrap(err, "querying protected entities")
	}
	defer rows.Close()

	var ids []entities.EntityID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "scanning protected entity")
		}
		ids = append(ids, entities.EntityID(id))
	}
	return ids, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
