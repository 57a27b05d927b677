package sqlite

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
)

// RecordDecision stores an authoring decision.
func (r *Repository) RecordDecision(ctx context.Context, d *entities.Decision) error {
	if d.ID == "" {
		d.ID = generateUUID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = timeNow()
	}
	affected, err := encodeJSON(nonNil(d.AffectedEntities))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decisions (id, description, reasoning, affected, implications_traced, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			reasoning = excluded.reasoning,
			affected = excluded.affected,
			implications_traced = excluded.implications_traced`,
		d.ID, d.Description, d.Reasoning, affected, d.ImplicationsTraced, formatTime(d.CreatedAt))
	if err != nil {
		return goerr.Wrap(err, "recording decision", goerr.V("id", d.ID))
	}
	return nil
}

// DeferImplications stores follow-ups against a decision. Deferring the same
// decision and entity again reopens it.
func (r *Repository) DeferImplications(ctx context.Context, implications []entities.DeferredImplication) error {
	if len(implications) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deferred_implications (decision_id, entity_id, description, deferred_at, resolved)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(decision_id, entity_id) DO UPDATE SET
			description = excluded.description,
			deferred_at = excluded.deferred_at,
			resolved = 0`)
	if err != nil {
		return goerr.Wrap(err, "preparing deferral")
	}
	defer stmt.Close()

	for i := range implications {
		imp := &implications[i]
		if imp.DeferredAt.IsZero() {
			imp.DeferredAt = timeNow()
		}
		if _, err := stmt.ExecContext(ctx, imp.DecisionID, string(imp.EntityID), imp.Description, formatTime(imp.DeferredAt)); err != nil {
			return goerr.Wrap(err, "deferring implication",
				goerr.V("decision", imp.DecisionID), goerr.V("entity", imp.EntityID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "committing deferrals")
	}
	return nil
}

// ListDeferred lists deferred implications, oldest first.
func (r *Repository) ListDeferred(ctx context.Context, includeResolved bool) ([]entities.DeferredImplication, error) {
	query := `SELECT decision_id, entity_id, description, deferred_at, resolved FROM deferred_implications`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY deferred_at, decision_id, entity_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "querying deferred implications")
	}
	defer rows.Close()

	var result []entities.DeferredImplication
	for rows.Next() {
		var (
			d          entities.DeferredImplication
			entity, at string
		)
		if err := rows.Scan(&d.DecisionID, &entity, &d.Description, &at, &d.Resolved); err != nil {
			return nil, goerr.Wrap(err, "scanning deferred implication")
		}
		d.EntityID = entities.EntityID(entity)
		if d.DeferredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// ResolveImplication marks a deferred implication resolved.
func (r *Repository) ResolveImplication(ctx context.Context, decisionID string, entityID entities.EntityID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE deferred_implications SET resolved = 1 WHERE decision_id = ? AND entity_id = ?`,
		decisionID, string(entityID))
	if err != nil {
		return goerr.Wrap(err, "resolving implication", goerr.V("decision", decisionID), goerr.V("entity", entityID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "checking resolve")
	}
	if n == 0 {
		return apperrors.NotFound("resolve implication", decisionID)
	}
	return nil
}
