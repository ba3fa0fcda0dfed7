// Package reconcile keeps managed entities and view annotations
// consistent. Every mutating operation is admitted through the search
// serializer, runs to completion against the registry, the locator and the
// annotation store, and settles before the next operation starts.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/metrics"
	"github.com/raaihank/doc-sentinel/internal/queue"
	"github.com/raaihank/doc-sentinel/internal/registry"
	"github.com/raaihank/doc-sentinel/internal/viewer"
)

// Options configures matching behavior and annotation appearance.
type Options struct {
	// DefaultMatch is used when locating entities for highlights and
	// redactions.
	DefaultMatch viewer.MatchOptions
	// PreviewMatch is used for temporary preview highlights; typically
	// more permissive than DefaultMatch.
	PreviewMatch viewer.MatchOptions

	RedactionFill  viewer.RGB
	HighlightColor viewer.RGB
	// Overlay labels each redaction with the entity's category.
	Overlay       bool
	RepeatOverlay bool
}

// Engine is the reconciliation engine for one document. All exported
// operations enqueue onto the serializer and return the eventual affected
// annotation count.
type Engine struct {
	reg   *registry.Registry
	loc   viewer.Locator
	store viewer.AnnotationStore
	q     *queue.Queue
	opts  Options
	met   *metrics.Metrics
	log   *logger.Logger

	// redactionIndex maps entity ID to its redaction annotation IDs. The
	// invariant between settled operations: an entity has HasRedaction
	// set exactly when it has an index entry, exactly when the store
	// holds at least one redaction tagged with its ID.
	redactionIndex map[string][]viewer.AnnotationID
	tempIDs        []viewer.AnnotationID
}

// New wires an engine from its collaborators.
func New(reg *registry.Registry, loc viewer.Locator, store viewer.AnnotationStore, q *queue.Queue, opts Options, met *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		reg:            reg,
		loc:            loc,
		store:          store,
		q:              q,
		opts:           opts,
		met:            met,
		log:            log.WithComponent("reconcile"),
		redactionIndex: make(map[string][]viewer.AnnotationID),
	}
}

// Registry returns the entity registry the engine manages.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Store returns the annotation store the engine manages.
func (e *Engine) Store() viewer.AnnotationStore { return e.store }

// RedactionCount returns how many redaction annotations are indexed for
// the entity.
func (e *Engine) RedactionCount(entityID string) int {
	done := queue.Enqueue(e.q, context.Background(), "redaction_count", func(context.Context) (int, error) {
		return len(e.redactionIndex[entityID]), nil
	})
	n, _ := done.Wait(context.Background())
	return n
}

func (e *Engine) enqueue(ctx context.Context, name string, body func(context.Context) (int, error)) *queue.Pending[int] {
	return queue.Enqueue(e.q, ctx, name, func(opCtx context.Context) (n int, err error) {
		start := time.Now()
		defer func() {
			e.met.RecordOp(name, err, time.Since(start))
		}()
		return body(opCtx)
	})
}

// LoadEntities replaces the document's entities with a fresh detection
// batch. All annotations and redaction state from the previous batch are
// dropped first, so a reload never leaves orphaned regions behind.
func (e *Engine) LoadEntities(ctx context.Context, inputs []registry.EntityInput) *queue.Pending[int] {
	return e.enqueue(ctx, "load_entities", func(context.Context) (int, error) {
		removed := e.store.RemoveWhere(func(viewer.Annotation) bool { return true })
		e.redactionIndex = make(map[string][]viewer.AnnotationID)
		e.tempIDs = nil

		entities := e.reg.Load(inputs)
		e.store.Redraw()

		e.log.Info("entities loaded",
			zap.Int("entities", len(entities)),
			zap.Int("annotations_dropped", removed))
		return len(entities), nil
	})
}

// RefreshHighlights rebuilds the persistent highlight for every entity:
// existing highlights are dropped, each entity is located with the default
// match options, and one highlight is added per occurrence. An entity's
// page number is recorded from its first occurrence. Entities that locate
// nothing simply get no highlight.
func (e *Engine) RefreshHighlights(ctx context.Context) *queue.Pending[int] {
	return e.enqueue(ctx, "refresh_highlights", func(opCtx context.Context) (int, error) {
		removed := e.store.RemoveWhere(func(a viewer.Annotation) bool {
			return a.Kind() == viewer.KindHighlight
		})
		e.met.RecordAnnotations(string(viewer.KindHighlight), 0, removed)

		added := 0
		for _, ent := range e.reg.List() {
			n, err := e.highlightEntity(opCtx, ent)
			if err != nil {
				if isCancellation(err) {
					return added, err
				}
				e.log.Warn("highlight failed",
					zap.String("entity_id", ent.ID),
					zap.Error(err))
				continue
			}
			added += n
		}

		e.store.Redraw()
		return added, nil
	})
}

func (e *Engine) highlightEntity(ctx context.Context, ent registry.ManagedEntity) (int, error) {
	first := true
	added := 0
	err := e.loc.Locate(ctx, ent.Text, e.opts.DefaultMatch, func(o viewer.Occurrence) {
		e.store.Add(viewer.Highlight{
			Common: viewer.Common{Page: o.PageNumber, Quads: o.Quads, EntityID: ent.ID},
			Color:  e.opts.HighlightColor,
		})
		added++
		if first {
			first = false
			_ = e.reg.SetPageNumber(ent.ID, o.PageNumber)
		}
	})
	if err != nil {
		return added, err
	}
	e.met.RecordAnnotations(string(viewer.KindHighlight), added, 0)
	return added, nil
}

// ApplyRedaction locates the entity and adds one redaction per occurrence.
// Zero occurrences is not an error: the count settles at 0, the entity
// stays selected and HasRedaction stays false. Re-applying replaces the
// entity's previous redactions instead of stacking new ones.
func (e *Engine) ApplyRedaction(ctx context.Context, entityID string) *queue.Pending[int] {
	return e.enqueue(ctx, "apply_redaction", func(opCtx context.Context) (int, error) {
		ent, err := e.reg.Get(entityID)
		if err != nil {
			return 0, err
		}
		n, err := e.applyRedaction(opCtx, ent)
		e.store.Redraw()
		return n, err
	})
}

// applyRedaction is the unqueued body shared by ApplyRedaction,
// ToggleEntity and ToggleCategory. Callers run inside a queued operation.
func (e *Engine) applyRedaction(ctx context.Context, ent registry.ManagedEntity) (int, error) {
	e.dropRedactions(ent.ID)

	var occs []viewer.Occurrence
	err := e.loc.Locate(ctx, ent.Text, e.opts.DefaultMatch, func(o viewer.Occurrence) {
		occs = append(occs, o)
	})
	if err != nil {
		return 0, fmt.Errorf("locate entity %s: %w", ent.ID, err)
	}

	if len(occs) == 0 {
		e.met.RecordZeroMatch()
		e.log.Info("no occurrences to redact",
			zap.String("entity_id", ent.ID),
			zap.String("category", ent.Category))
		return 0, nil
	}

	ids := make([]viewer.AnnotationID, 0, len(occs))
	for _, o := range occs {
		ann := viewer.Redaction{
			Common:    viewer.Common{Page: o.PageNumber, Quads: o.Quads, EntityID: ent.ID},
			FillColor: e.opts.RedactionFill,
		}
		if e.opts.Overlay {
			ann.OverlayText = ent.Category
			ann.RepeatOverlay = e.opts.RepeatOverlay
		}
		ids = append(ids, e.store.Add(ann))
	}

	e.redactionIndex[ent.ID] = ids
	_ = e.reg.SetHasRedaction(ent.ID, true)
	_ = e.reg.SetPageNumber(ent.ID, occs[0].PageNumber)
	e.met.RecordAnnotations(string(viewer.KindRedaction), len(ids), 0)
	return len(ids), nil
}

// dropRedactions removes the entity's indexed redactions from the store
// and clears its flag. Returns the number of annotations removed.
func (e *Engine) dropRedactions(entityID string) int {
	ids := e.redactionIndex[entityID]
	delete(e.redactionIndex, entityID)

	removed := 0
	for _, id := range ids {
		if e.store.Remove(id) {
			removed++
		}
	}
	_ = e.reg.SetHasRedaction(entityID, false)
	e.met.RecordAnnotations(string(viewer.KindRedaction), 0, removed)
	return removed
}

// RemoveRedaction removes the entity's redactions. Removing an entity with
// no redactions settles at 0 without error.
func (e *Engine) RemoveRedaction(ctx context.Context, entityID string) *queue.Pending[int] {
	return e.enqueue(ctx, "remove_redaction", func(context.Context) (int, error) {
		if _, err := e.reg.Get(entityID); err != nil {
			return 0, err
		}
		n := e.dropRedactions(entityID)
		e.store.Redraw()
		return n, nil
	})
}

// ToggleEntity flips the entity's selection and reconciles its redactions
// in the same queued operation, so the flag and the store always settle
// together.
func (e *Engine) ToggleEntity(ctx context.Context, entityID string, selected bool) *queue.Pending[int] {
	return e.enqueue(ctx, "toggle_entity", func(opCtx context.Context) (int, error) {
		ent, err := e.reg.Get(entityID)
		if err != nil {
			return 0, err
		}
		n, err := e.toggleOne(opCtx, ent, selected)
		e.store.Redraw()
		return n, err
	})
}

func (e *Engine) toggleOne(ctx context.Context, ent registry.ManagedEntity, selected bool) (int, error) {
	if err := e.reg.SetSelected(ent.ID, selected); err != nil {
		return 0, err
	}
	if selected {
		return e.applyRedaction(ctx, ent)
	}
	return e.dropRedactions(ent.ID), nil
}

// ToggleCategory toggles every entity whose category groups with name, as
// one queued operation. A member that fails is logged and skipped; the
// remaining members are still processed.
func (e *Engine) ToggleCategory(ctx context.Context, name string, selected bool) *queue.Pending[int] {
	return e.enqueue(ctx, "toggle_category", func(opCtx context.Context) (int, error) {
		members := e.reg.MembersOfCategory(name)
		if len(members) == 0 {
			return 0, fmt.Errorf("toggle category %q: %w", name, registry.ErrNotFound)
		}

		total := 0
		for _, ent := range members {
			n, err := e.toggleOne(opCtx, ent, selected)
			total += n
			if err != nil {
				if isCancellation(err) {
					e.store.Redraw()
					return total, err
				}
				e.log.Warn("toggle failed for category member",
					zap.String("entity_id", ent.ID),
					zap.String("category", name),
					zap.Error(err))
			}
		}

		e.store.Redraw()
		return total, nil
	})
}

// PreviewEntity shows temporary highlights for the entity. Any previous
// preview is cleared first; only one preview context exists at a time.
// With allInstances false only the first occurrence is highlighted. Zero
// occurrences settles at 0 and leaves no entity marked highlighted.
func (e *Engine) PreviewEntity(ctx context.Context, entityID string, allInstances bool) *queue.Pending[int] {
	return e.enqueue(ctx, "preview_entity", func(opCtx context.Context) (int, error) {
		ent, err := e.reg.Get(entityID)
		if err != nil {
			return 0, err
		}

		e.dropTempHighlights()

		var occs []viewer.Occurrence
		err = e.loc.Locate(opCtx, ent.Text, e.opts.PreviewMatch, func(o viewer.Occurrence) {
			occs = append(occs, o)
		})
		if err != nil {
			e.store.Redraw()
			return 0, fmt.Errorf("locate entity %s: %w", ent.ID, err)
		}

		if len(occs) == 0 {
			e.store.Redraw()
			return 0, nil
		}
		if !allInstances {
			occs = occs[:1]
		}

		for _, o := range occs {
			id := e.store.Add(viewer.TempHighlight{
				Common: viewer.Common{Page: o.PageNumber, Quads: o.Quads, EntityID: ent.ID},
				Color:  e.opts.HighlightColor,
			})
			e.tempIDs = append(e.tempIDs, id)
		}
		_ = e.reg.SetHighlighted(ent.ID, true)
		_ = e.reg.SetPageNumber(ent.ID, occs[0].PageNumber)
		e.met.RecordAnnotations(string(viewer.KindTempHighlight), len(occs), 0)

		e.store.Redraw()
		return len(occs), nil
	})
}

// ClearTemporaryHighlights removes the active preview, if any. Idempotent.
func (e *Engine) ClearTemporaryHighlights(ctx context.Context) *queue.Pending[int] {
	return e.enqueue(ctx, "clear_temp_highlights", func(context.Context) (int, error) {
		n := e.dropTempHighlights()
		e.store.Redraw()
		return n, nil
	})
}

func (e *Engine) dropTempHighlights() int {
	removed := 0
	for _, id := range e.tempIDs {
		if e.store.Remove(id) {
			removed++
		}
	}
	e.tempIDs = nil
	e.reg.ClearHighlighted()
	e.met.RecordAnnotations(string(viewer.KindTempHighlight), 0, removed)
	return removed
}

// ClearAllRedactions removes every redaction annotation and resets every
// entity to its loaded state: selected, no redaction. The sweep works from
// the store by kind rather than the index, so it also heals an index that
// somehow drifted. Idempotent.
func (e *Engine) ClearAllRedactions(ctx context.Context) *queue.Pending[int] {
	return e.enqueue(ctx, "clear_all_redactions", func(context.Context) (int, error) {
		removed := e.store.RemoveWhere(func(a viewer.Annotation) bool {
			return a.Kind() == viewer.KindRedaction
		})
		e.redactionIndex = make(map[string][]viewer.AnnotationID)

		for _, ent := range e.reg.List() {
			_ = e.reg.SetHasRedaction(ent.ID, false)
			_ = e.reg.SetSelected(ent.ID, true)
		}

		e.met.RecordAnnotations(string(viewer.KindRedaction), 0, removed)
		e.store.Redraw()
		return removed, nil
	})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
