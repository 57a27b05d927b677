package services

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// DefaultCompareEpsilon is the band within which a distance trend counts as stable.
const DefaultCompareEpsilon = 0.02

// fanOutLimit bounds concurrent repository reads in a single analysis.
const fanOutLimit = 8

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

// Convergence classifies how two entities move relative to each other.
type Convergence string

const (
	Convergent Convergence = "convergent"
	Divergent  Convergence = "divergent"
	Stable     Convergence = "stable"
)

// DriftResult is the cumulative semantic change of one entity.
type DriftResult struct {
	EntityID            entities.EntityID `json:"entity_id"`
	Name                string            `json:"name"`
	Drift               float64           `json:"drift"`
	Displacement        float64           `json:"displacement"`
	Assessment          string            `json:"assessment"`
	Snapshots           int               `json:"snapshots"`
	LastRecordedAt      time.Time         `json:"last_recorded_at,omitzero"`
	InsufficientHistory bool              `json:"insufficient_history"`
}

// HistoryEntry is one snapshot with its change from the previous one.
type HistoryEntry struct {
	Snapshot   entities.ArcSnapshot `json:"snapshot"`
	Delta      float64              `json:"delta"`
	Cumulative float64              `json:"cumulative"`
}

// ArcHistory is a finite, restartable view over an entity's snapshots.
type ArcHistory struct {
	EntityID  entities.EntityID
	snapshots []entities.ArcSnapshot
}

// Len returns the number of snapshots.
func (h *ArcHistory) Len() int {
	return len(h.snapshots)
}

// All yields entries oldest first. Deltas are computed as the sequence is consumed;
// every call starts over from the first snapshot.
func (h *ArcHistory) All() iter.Seq2[int, HistoryEntry] {
	return func(yield func(int, HistoryEntry) bool) {
		var cumulative float64
		for i, snap := range h.snapshots {
			var delta float64
			if i > 0 {
				// Dimensions were validated when the history was built.
				delta, _ = vector.CosineDistance(h.snapshots[i-1].Embedding, snap.Embedding)
				cumulative += delta
			}
			if !yield(i, HistoryEntry{Snapshot: snap, Delta: delta, Cumulative: cumulative}) {
				return
			}
		}
	}
}

// Window selects which snapshots a comparison looks at.
type Window struct {
	Recent int
	From   time.Time
	To     time.Time
}

// String renders the window in the form ParseWindow accepts.
func (w Window) String() string {
	if w.Recent > 0 {
		return "recent:" + strconv.Itoa(w.Recent)
	}
	return "range:" + w.From.Format(time.RFC3339) + ".." + w.To.Format(time.RFC3339)
}

// ParseWindow parses "recent:N" or "range:<from>..<to>" with RFC3339 bounds.
func ParseWindow(s string) (Window, error) {
	kind, arg, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("%q: expected recent:N or range:FROM..TO", s))
	}

	switch kind {
	case "recent":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 2 {
			return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("%q: N must be an integer >= 2", s))
		}
		return Window{Recent: n}, nil
	case "range":
		from, to, ok := strings.Cut(arg, "..")
		if !ok {
			return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("%q: expected FROM..TO", s))
		}
		fromT, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("bad range start %q", from))
		}
		toT, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("bad range end %q", to))
		}
		if toT.Before(fromT) {
			return Window{}, apperrors.InvalidParameter("compare", "window", "range end precedes start")
		}
		return Window{From: fromT, To: toT}, nil
	}
	return Window{}, apperrors.InvalidParameter("compare", "window", fmt.Sprintf("unknown window kind %q", kind))
}

// PairDistance is the inter-entity distance at one aligned point.
type PairDistance struct {
	AAt      time.Time `json:"a_at"`
	BAt      time.Time `json:"b_at"`
	Distance float64   `json:"distance"`
}

// Comparison reports whether two entities are growing closer or apart.
type Comparison struct {
	A                    entities.EntityID `json:"a"`
	B                    entities.EntityID `json:"b"`
	Window               string            `json:"window"`
	Distances            []PairDistance    `json:"distances"`
	Trend                float64           `json:"trend"`
	Classification       Convergence       `json:"classification"`
	TrajectorySimilarity *float64          `json:"trajectory_similarity,omitempty"`
}

// BaselineResult summarizes a baseline capture.
type BaselineResult struct {
	Captured    []entities.EntityID `json:"captured"`
	Unchanged   int                 `json:"unchanged"`
	NoEmbedding int                 `json:"no_embedding"`
	ClockSkewed int                 `json:"clock_skewed"`
	CapturedAt  time.Time           `json:"captured_at"`
}

// ArcConfig tunes the arc tracker. Zero values select defaults.
type ArcConfig struct {
	CompareEpsilon float64
}

// ArcService tracks embedding snapshots per entity over time.
type ArcService struct {
	entities  ports.EntityReader
	snapshots ports.SnapshotStore
	epsilon   float64
}

// NewArcService creates a new ArcService.
func NewArcService(entityReader ports.EntityReader, snapshots ports.SnapshotStore, cfg ArcConfig) *ArcService {
	eps := cfg.CompareEpsilon
	if eps <= 0 {
		eps = DefaultCompareEpsilon
	}
	return &ArcService{
		entities:  entityReader,
		snapshots: snapshots,
		epsilon:   eps,
	}
}

// RecordSnapshot appends a snapshot for an entity. Timestamps must strictly
// increase per entity; a rejected call leaves the timeline untouched.
func (s *ArcService) RecordSnapshot(
	ctx context.Context,
	entityID entities.EntityID,
	embedding []float32,
	at time.Time,
	eventID entities.EntityID,
) (*entities.ArcSnapshot, error) {
	if len(embedding) == 0 {
		return nil, apperrors.MissingEmbedding("record snapshot", string(entityID))
	}
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}

	existing, err := s.snapshots.ListSnapshots(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	if n := len(existing); n > 0 {
		last := existing[n-1]
		if !at.After(last.RecordedAt) {
			return nil, apperrors.WithMetadata(apperrors.CodeOutOfOrderSnapshot,
				fmt.Sprintf("snapshot at %s is not after latest snapshot at %s",
					at.Format(time.RFC3339Nano), last.RecordedAt.Format(time.RFC3339Nano)),
				map[string]string{"op": "record snapshot", "id": string(entityID)})
		}
		if len(last.Embedding) != len(embedding) {
			return nil, apperrors.WithMetadata(apperrors.CodeDimensionMismatch,
				fmt.Sprintf("snapshot has %d dimensions, timeline has %d", len(embedding), len(last.Embedding)),
				map[string]string{"op": "record snapshot", "id": string(entityID)})
		}
	}

	snap := &entities.ArcSnapshot{
		ID:         uuid.New().String(),
		EntityID:   entityID,
		Embedding:  embedding,
		RecordedAt: at,
		EventID:    eventID,
	}
	if err := s.snapshots.AppendSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("appending snapshot: %w", err)
	}
	return snap, nil
}

// CaptureBaseline snapshots the current embedding of every entity of the given
// types whose embedding differs from its latest snapshot.
func (s *ArcService) CaptureBaseline(ctx context.Context, types []entities.EntityType) (*BaselineResult, error) {
	list, err := s.entities.ListEntitiesByType(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	now := timeNow()
	result := &BaselineResult{Captured: []entities.EntityID{}, CapturedAt: now}
	for _, e := range list {
		if !e.HasEmbedding() {
			result.NoEmbedding++
			continue
		}
		existing, err := s.snapshots.ListSnapshots(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("listing snapshots for %s: %w", e.ID, err)
		}
		if n := len(existing); n > 0 {
			last := existing[n-1]
			if len(last.Embedding) == len(e.Embedding) {
				if d, _ := vector.CosineDistance(last.Embedding, e.Embedding); d == 0 {
					result.Unchanged++
					continue
				}
			}
			if !now.After(last.RecordedAt) {
				result.ClockSkewed++
				continue
			}
		}
		if _, err := s.RecordSnapshot(ctx, e.ID, e.Embedding, now, ""); err != nil {
			return nil, fmt.Errorf("capturing %s: %w", e.ID, err)
		}
		result.Captured = append(result.Captured, e.ID)
	}
	return result, nil
}

// Drift returns the sum of consecutive cosine distances across the entity's
// snapshots. Fewer than two snapshots yield zero flagged InsufficientHistory.
func (s *ArcService) Drift(ctx context.Context, entityID entities.EntityID) (*DriftResult, error) {
	e, err := s.entities.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return s.drift(ctx, e)
}

func (s *ArcService) drift(ctx context.Context, e *entities.Entity) (*DriftResult, error) {
	snaps, err := s.snapshots.ListSnapshots(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", e.ID, err)
	}

	result := &DriftResult{
		EntityID:  e.ID,
		Name:      e.DisplayName(),
		Snapshots: len(snaps),
	}
	if len(snaps) > 0 {
		result.LastRecordedAt = snaps[len(snaps)-1].RecordedAt
	}
	if len(snaps) < 2 {
		result.InsufficientHistory = true
		result.Assessment = arcAssessment(0)
		return result, nil
	}

	for i := 1; i < len(snaps); i++ {
		d, err := vector.CosineDistance(snaps[i-1].Embedding, snaps[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("drift of %s: %w", e.ID, err)
		}
		result.Drift += d
	}
	displacement, err := vector.CosineDistance(snaps[0].Embedding, snaps[len(snaps)-1].Embedding)
	if err != nil {
		return nil, fmt.Errorf("displacement of %s: %w", e.ID, err)
	}
	result.Displacement = displacement
	result.Assessment = arcAssessment(displacement)
	return result, nil
}

// RankByDrift ranks entities of the given types by descending drift. Ties are
// broken by most recent snapshot first, then by ID. limit 0 returns everything.
func (s *ArcService) RankByDrift(ctx context.Context, types []entities.EntityType, limit int) ([]DriftResult, error) {
	if limit < 0 {
		return nil, apperrors.InvalidParameter("rank by drift", "limit", "must not be negative")
	}

	list, err := s.entities.ListEntitiesByType(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	results := make([]DriftResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i := range list {
		g.Go(func() error {
			r, err := s.drift(gctx, &list[i])
			if err != nil {
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Drift != b.Drift {
			return a.Drift > b.Drift
		}
		if !a.LastRecordedAt.Equal(b.LastRecordedAt) {
			return a.LastRecordedAt.After(b.LastRecordedAt)
		}
		return a.EntityID < b.EntityID
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// History returns the entity's snapshot timeline.
func (s *ArcService) History(ctx context.Context, entityID entities.EntityID) (*ArcHistory, error) {
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	snaps, err := s.snapshots.ListSnapshots(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	for i := 1; i < len(snaps); i++ {
		if len(snaps[i].Embedding) != len(snaps[0].Embedding) {
			return nil, apperrors.WithMetadata(apperrors.CodeDimensionMismatch, "snapshot dimensions differ within timeline",
				map[string]string{"op": "history", "id": string(entityID)})
		}
	}
	return &ArcHistory{EntityID: entityID, snapshots: snaps}, nil
}

// Compare classifies the trend in distance between two entities over a window.
func (s *ArcService) Compare(ctx context.Context, a, b entities.EntityID, w Window) (*Comparison, error) {
	var snapsA, snapsB []entities.ArcSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapsA, err = s.timeline(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		snapsB, err = s.timeline(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairsA, pairsB := alignWindow(snapsA, snapsB, w)
	if len(pairsA) < 2 {
		return nil, apperrors.WithMetadata(apperrors.CodeInsufficientHistory,
			fmt.Sprintf("need at least 2 aligned snapshots, have %d", len(pairsA)),
			map[string]string{"op": "compare", "a": string(a), "b": string(b)})
	}

	cmp := &Comparison{A: a, B: b, Window: w.String()}
	for i := range pairsA {
		d, err := vector.CosineDistance(pairsA[i].Embedding, pairsB[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("comparing %s and %s: %w", a, b, err)
		}
		cmp.Distances = append(cmp.Distances, PairDistance{
			AAt:      pairsA[i].RecordedAt,
			BAt:      pairsB[i].RecordedAt,
			Distance: d,
		})
	}

	n := len(cmp.Distances)
	cmp.Trend = (cmp.Distances[n-1].Distance - cmp.Distances[0].Distance) / float64(n-1)
	switch {
	case cmp.Trend < -s.epsilon:
		cmp.Classification = Convergent
	case cmp.Trend > s.epsilon:
		cmp.Classification = Divergent
	default:
		cmp.Classification = Stable
	}

	moveA, errA := vector.Subtract(pairsA[len(pairsA)-1].Embedding, pairsA[0].Embedding)
	moveB, errB := vector.Subtract(pairsB[len(pairsB)-1].Embedding, pairsB[0].Embedding)
	if errA == nil && errB == nil && !isZero(moveA) && !isZero(moveB) {
		if sim, err := vector.CosineSimilarity(moveA, moveB); err == nil {
			cmp.TrajectorySimilarity = &sim
		}
	}
	return cmp, nil
}

func (s *ArcService) timeline(ctx context.Context, id entities.EntityID) ([]entities.ArcSnapshot, error) {
	if _, err := s.entities.GetEntity(ctx, id); err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	snaps, err := s.snapshots.ListSnapshots(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", id, err)
	}
	return snaps, nil
}

// alignWindow pairs snapshots of a and b. Recent windows take the last N of
// each, aligned from the newest end. Range windows pair each a snapshot inside
// the range with b's latest snapshot at or before it.
func alignWindow(a, b []entities.ArcSnapshot, w Window) ([]entities.ArcSnapshot, []entities.ArcSnapshot) {
	if w.Recent > 0 {
		n := min(w.Recent, len(a), len(b))
		return a[len(a)-n:], b[len(b)-n:]
	}

	var outA, outB []entities.ArcSnapshot
	for _, snap := range a {
		if snap.RecordedAt.Before(w.From) || snap.RecordedAt.After(w.To) {
			continue
		}
		if match, ok := latestAtOrBefore(b, snap.RecordedAt); ok {
			outA = append(outA, snap)
			outB = append(outB, match)
		}
	}
	return outA, outB
}

// latestAtOrBefore returns the last snapshot recorded at or before t.
// snaps must be in ascending time order.
func latestAtOrBefore(snaps []entities.ArcSnapshot, t time.Time) (entities.ArcSnapshot, bool) {
	i := sort.Search(len(snaps), func(i int) bool { return snaps[i].RecordedAt.After(t) })
	if i == 0 {
		return entities.ArcSnapshot{}, false
	}
	return snaps[i-1], true
}

// Moment returns the entity's snapshot for an event: one explicitly tagged
// with the event, else the latest at or before the event's timestamp.
func (s *ArcService) Moment(ctx context.Context, entityID, eventID entities.EntityID) (*entities.ArcSnapshot, error) {
	event, err := s.entities.GetEntity(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("getting event: %w", err)
	}
	snaps, err := s.timeline(ctx, entityID)
	if err != nil {
		return nil, err
	}

	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].EventID == eventID {
			return &snaps[i], nil
		}
	}
	if snap, ok := latestAtOrBefore(snaps, event.Timestamp()); ok {
		return &snap, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeNoSnapshotBeforeEvent,
		fmt.Sprintf("no snapshot at or before %s", event.Timestamp().Format(time.RFC3339)),
		map[string]string{"op": "moment", "id": string(entityID), "event": string(eventID)})
}

func arcAssessment(displacement float64) string {
	switch {
	case displacement < 0.02:
		return "essentially unchanged"
	case displacement < 0.1:
		return "minor evolution"
	case displacement < 0.3:
		return "significant evolution"
	default:
		return "dramatic transformation"
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
