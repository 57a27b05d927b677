package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Visit is one entity reached by a reference walk.
type Visit struct {
	EntityID entities.EntityID `json:"entity_id"`
	Distance int               `json:"distance"`
	Via      entities.EntityID `json:"via,omitempty"`
}

// referenceWalker follows every kind of link between entities: explicit refs in
// both directions, relationships, knowledge provenance, perceptions and scene
// participation. It loads the entity and scene catalogues once per walk.
type referenceWalker struct {
	r ports.GraphReader

	loaded      bool
	known       map[entities.EntityID]*entities.Entity
	reverseRefs map[entities.EntityID][]entities.EntityID
	scenes      []entities.Scene
}

func newReferenceWalker(r ports.GraphReader) *referenceWalker {
	return &referenceWalker{r: r}
}

func (w *referenceWalker) load(ctx context.Context) error {
	if w.loaded {
		return nil
	}
	all, err := w.r.ListEntitiesByType(ctx)
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	w.known = make(map[entities.EntityID]*entities.Entity, len(all))
	w.reverseRefs = make(map[entities.EntityID][]entities.EntityID)
	for i := range all {
		e := &all[i]
		w.known[e.ID] = e
		for _, ref := range e.Refs {
			w.reverseRefs[ref] = append(w.reverseRefs[ref], e.ID)
		}
	}
	scenes, err := w.r.ListScenesByParticipants(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing scenes: %w", err)
	}
	w.scenes = scenes
	w.loaded = true
	return nil
}

// exists reports whether id names a stored entity.
func (w *referenceWalker) exists(ctx context.Context, id entities.EntityID) (bool, error) {
	if err := w.load(ctx); err != nil {
		return false, err
	}
	_, ok := w.known[id]
	return ok, nil
}

// neighbors returns the existing entities linked to id, sorted and without id itself.
func (w *referenceWalker) neighbors(ctx context.Context, id entities.EntityID) ([]entities.EntityID, error) {
	if err := w.load(ctx); err != nil {
		return nil, err
	}
	e, ok := w.known[id]
	if !ok {
		return nil, apperrors.NotFound("walk references", string(id))
	}

	found := make(map[entities.EntityID]bool)
	add := func(ids ...entities.EntityID) {
		for _, n := range ids {
			if n != "" && n != id {
				found[n] = true
			}
		}
	}

	add(e.Refs...)
	add(w.reverseRefs[id]...)

	rels, err := w.r.ListRelationships(ctx, ports.RelationshipFilter{EntityID: id})
	if err != nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", id, err)
	}
	for i := range rels {
		add(rels[i].Other(id))
	}

	held, err := w.r.ListKnowledge(ctx, ports.KnowledgeFilter{CharacterIDs: []entities.EntityID{id}})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge of %s: %w", id, err)
	}
	for _, k := range held {
		add(k.TargetID, k.SourceCharacterID, k.EventID)
	}
	about, err := w.r.ListKnowledge(ctx, ports.KnowledgeFilter{TargetID: id})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge about %s: %w", id, err)
	}
	for _, k := range about {
		add(k.CharacterID)
	}

	seen, err := w.r.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: id})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions by %s: %w", id, err)
	}
	for _, p := range seen {
		add(p.TargetID)
	}
	seenBy, err := w.r.ListPerceptions(ctx, ports.PerceptionFilter{TargetID: id})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions of %s: %w", id, err)
	}
	for _, p := range seenBy {
		add(p.ObserverID)
	}

	for i := range w.scenes {
		sc := &w.scenes[i]
		switch {
		case sc.ID == id:
			add(sc.Participants...)
			add(sc.EventID, sc.LocationID)
		case sc.EventID == id || sc.LocationID == id || containsID(sc.Participants, id):
			add(sc.ID)
		}
	}

	out := make([]entities.EntityID, 0, len(found))
	for n := range found {
		if _, ok := w.known[n]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// walk returns every entity within maxDepth hops of root in breadth-first
// order. The root itself is not included.
func (w *referenceWalker) walk(ctx context.Context, root entities.EntityID, maxDepth int) ([]Visit, error) {
	visited := map[entities.EntityID]bool{root: true}
	frontier := []entities.EntityID{root}
	var out []Visit
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []entities.EntityID
		for _, u := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ns, err := w.neighbors(ctx, u)
			if err != nil {
				return nil, err
			}
			for _, n := range ns {
				if visited[n] {
					continue
				}
				visited[n] = true
				out = append(out, Visit{EntityID: n, Distance: depth, Via: u})
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out, nil
}

func containsID(ids []entities.EntityID, id entities.EntityID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
