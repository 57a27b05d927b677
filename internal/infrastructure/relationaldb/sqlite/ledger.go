package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

const knowledgeColumns = `id, character_id, target_id, fact_ref, fact, embedding, certainty, method, source_character_id, event_id, learned_at`

// AppendKnowledge appends a ledger record. Records are never updated;
// appending an ID that already exists is a no-op.
func (r *Repository) AppendKnowledge(ctx context.Context, record *entities.KnowledgeRecord) error {
	if record.ID == "" {
		record.ID = generateUUID()
	}
	emb, err := encodeVector(record.Embedding)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO knowledge (`+knowledgeColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM knowledge))
		ON CONFLICT(id) DO NOTHING`,
		record.ID,
		string(record.CharacterID),
		string(record.TargetID),
		record.FactRef,
		record.Fact,
		emb,
		string(record.Certainty),
		string(record.Method),
		string(record.SourceCharacterID),
		string(record.EventID),
		formatTime(record.LearnedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "appending knowledge", goerr.V("id", record.ID), goerr.V("character", record.CharacterID))
	}
	return nil
}

// ListKnowledge returns matching records ordered by LearnedAt, then append
// order (the seq column).
func (r *Repository) ListKnowledge(ctx context.Context, filter ports.KnowledgeFilter) ([]entities.KnowledgeRecord, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.CharacterIDs) > 0 {
		where = append(where, `character_id IN (`+placeholders(len(filter.CharacterIDs))+`)`)
		args = append(args, stringArgs(filter.CharacterIDs)...)
	}
	if filter.TargetID != "" {
		where = append(where, `target_id = ?`)
		args = append(args, string(filter.TargetID))
	}
	if filter.FactRef != "" {
		where = append(where, `fact_ref = ?`)
		args = append(args, filter.FactRef)
	}

	query := `SELECT ` + knowledgeColumns + ` FROM knowledge` + whereClause(where) + ` ORDER BY learned_at, seq`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying knowledge")
	}
	defer rows.Close()

	result := make([]entities.KnowledgeRecord, 0, 16)
	for rows.Next() {
		var (
			k                                    entities.KnowledgeRecord
			character, target, certainty, method string
			source, event, learnedAt             string
			emb                                  sql.NullString
		)
		if err := rows.Scan(&k.ID, &character, &target, &k.FactRef, &k.Fact, &emb,
			&certainty, &method, &source, &event, &learnedAt); err != nil {
			return nil, goerr.Wrap(err, "scanning knowledge")
		}
		k.CharacterID = entities.EntityID(character)
		k.TargetID = entities.EntityID(target)
		k.Certainty = entities.Certainty(certainty)
		k.Method = entities.LearningMethod(method)
		k.SourceCharacterID = entities.EntityID(source)
		k.EventID = entities.EntityID(event)
		if k.Embedding, err = decodeVector(emb); err != nil {
			return nil, err
		}
		if k.LearnedAt, err = parseTime(learnedAt); err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

const perceptionColumns = `id, observer_id, target_id, text, embedding, feelings, tension, history, recorded_at`

// AppendPerception appends a perception record. Appending an ID that already
// exists is a no-op.
func (r *Repository) AppendPerception(ctx context.Context, p *entities.Perception) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	emb, err := encodeVector(p.Embedding)
	if err != nil {
		return err
	}
	var tension sql.NullInt64
	if p.Tension != nil {
		tension = sql.NullInt64{Int64: int64(*p.Tension), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO perceptions (`+perceptionColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM perceptions))
		ON CONFLICT(id) DO NOTHING`,
		p.ID,
		string(p.ObserverID),
		string(p.TargetID),
		p.Text,
		emb,
		p.Feelings,
		tension,
		p.History,
		formatTime(p.RecordedAt),
	)
	if err != nil {
		return goerr.Wrap(err, "appending perception", goerr.V("observer", p.ObserverID), goerr.V("target", p.TargetID))
	}
	return nil
}

// ListPerceptions returns matching records ordered by RecordedAt, then append order.
func (r *Repository) ListPerceptions(ctx context.Context, filter ports.PerceptionFilter) ([]entities.Perception, error) {
	var (
		where []string
		args  []any
	)
	if filter.ObserverID != "" {
		where = append(where, `observer_id = ?`)
		args = append(args, string(filter.ObserverID))
	}
	if filter.TargetID != "" {
		where = append(where, `target_id = ?`)
		args = append(args, string(filter.TargetID))
	}

	query := `SELECT ` + perceptionColumns + ` FROM perceptions` + whereClause(where) + ` ORDER BY recorded_at, seq`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "querying perceptions")
	}
	defer rows.Close()

	result := make([]entities.Perception, 0, 16)
	for rows.Next() {
		var (
			p                entities.Perception
			observer, target string
			emb              sql.NullString
			tension          sql.NullInt64
			recordedAt       string
		)
		if err := rows.Scan(&p.ID, &observer, &target, &p.Text, &emb, &p.Feelings,
			&tension, &p.History, &recordedAt); err != nil {
			return nil, goerr.Wrap(err, "scanning perception")
		}
		p.ObserverID = entities.EntityID(observer)
		p.TargetID = entities.EntityID(target)
		if tension.Valid {
			t := int(tension.Int64)
			p.Tension = &t
		}
		if p.Embedding, err = decodeVector(emb); err != nil {
			return nil, err
		}
		if p.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// AppendSnapshot stores snap. The insert and the ordering check are a single
// statement, so concurrent appends cannot interleave out of order.
func (r *Repository) AppendSnapshot(ctx context.Context, snap *entities.ArcSnapshot) error {
	if snap.ID == "" {
		snap.ID = generateUUID()
	}
	emb, err := encodeJSON(snap.Embedding)
	if err != nil {
		return err
	}
	at := formatTime(snap.RecordedAt)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, entity_id, embedding, recorded_at, event_id)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM snapshots WHERE entity_id = ? AND recorded_at >= ?
		)`,
		snap.ID, string(snap.EntityID), emb, at, string(snap.EventID),
		string(snap.EntityID), at,
	)
	if err != nil {
		return goerr.Wrap(err, "appending snapshot", goerr.V("entity", snap.EntityID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "checking snapshot insert")
	}
	if n == 0 {
		return apperrors.WithMetadata(apperrors.CodeOutOfOrderSnapshot, "snapshot is not after the latest one",
			map[string]string{"op": "append snapshot", "id": string(snap.EntityID), "recorded_at": at})
	}
	return nil
}

// ListSnapshots returns the entity's snapshots in ascending time order.
func (r *Repository) ListSnapshots(ctx context.Context, entityID entities.EntityID) ([]entities.ArcSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, embedding, recorded_at, event_id
		FROM snapshots
		WHERE entity_id = ?
		ORDER BY recorded_at`, string(entityID))
	if err != nil {
		return nil, goerr.Wrap(err, "querying snapshots", goerr.V("entity", entityID))
	}
	defer rows.Close()

	var result []entities.ArcSnapshot
	for rows.Next() {
		var (
			s                    entities.ArcSnapshot
			entity, emb, at, evt string
		)
		if err := rows.Scan(&s.ID, &entity, &emb, &at, &evt); err != nil {
			return nil, goerr.Wrap(err, "scanning snapshot")
		}
		s.EntityID = entities.EntityID(entity)
		s.EventID = entities.EntityID(evt)
		if err := decodeJSON(emb, &s.Embedding); err != nil {
			return nil, err
		}
		if s.RecordedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return ` WHERE ` + strings.Join(conds, ` AND `)
}
