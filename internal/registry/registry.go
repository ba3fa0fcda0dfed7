package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an entity ID is not in the registry.
var ErrNotFound = errors.New("entity not found")

// EntityInput is one detected entity as delivered by the detection service.
// Category and ConfidenceScore are consumed as-is; the registry never
// computes them.
type EntityInput struct {
	Text            string
	Category        string
	ConfidenceScore float64
	Offset          int
	Length          int
}

// ManagedEntity is a detected entity under reconciliation management.
type ManagedEntity struct {
	ID              string
	Text            string
	Category        string
	ConfidenceScore float64
	Offset          int
	Length          int

	// Selected marks the entity for redaction. Entities load selected.
	Selected bool
	// Highlighted marks the entity as the current preview target. At most
	// one entity is highlighted at a time.
	Highlighted bool
	// HasRedaction is true exactly when the annotation store holds at
	// least one redaction for this entity.
	HasRedaction bool
	// PageNumber is the page of the first located occurrence, 0 until the
	// entity has been located.
	PageNumber int
}

// CategoryGroup returns the normalized grouping key for the entity's
// category. It is derived on every call and never stored, so renamed
// categories regroup automatically.
func (e ManagedEntity) CategoryGroup() string {
	return NormalizeCategory(e.Category)
}

// NormalizeCategory lowers a category name and strips separators, so
// "Phone Number", "phone_number" and "PhoneNumber" group together.
func NormalizeCategory(category string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(category))
}

// CategorySummary aggregates the entities of one category group.
type CategorySummary struct {
	Name          string `json:"name"`
	Count         int    `json:"count"`
	SelectedCount int    `json:"selected_count"`
	RedactedCount int    `json:"redacted_count"`
}

// Registry owns the managed entities of one document. All methods are safe
// for concurrent use; mutation is expected to arrive through the search
// serializer but reads may come from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	entities []*ManagedEntity
	byID     map[string]*ManagedEntity
	nextID   int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID: make(map[string]*ManagedEntity),
	}
}

// Load replaces the current entities with a fresh batch. IDs continue the
// registry's counter, so entities from different batches never share an ID.
// Entities load with Selected set and everything else cleared.
func (r *Registry) Load(inputs []EntityInput) []ManagedEntity {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make([]*ManagedEntity, 0, len(inputs))
	r.byID = make(map[string]*ManagedEntity, len(inputs))

	for _, in := range inputs {
		r.nextID++
		e := &ManagedEntity{
			ID:              fmt.Sprintf("ent-%d", r.nextID),
			Text:            in.Text,
			Category:        in.Category,
			ConfidenceScore: in.ConfidenceScore,
			Offset:          in.Offset,
			Length:          in.Length,
			Selected:        true,
		}
		r.entities = append(r.entities, e)
		r.byID[e.ID] = e
	}

	return r.snapshotLocked()
}

// Get returns a copy of the entity with the given ID.
func (r *Registry) Get(id string) (ManagedEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return ManagedEntity{}, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return *e, nil
}

// List returns copies of all entities in load order.
func (r *Registry) List() []ManagedEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of loaded entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func (r *Registry) snapshotLocked() []ManagedEntity {
	out := make([]ManagedEntity, len(r.entities))
	for i, e := range r.entities {
		out[i] = *e
	}
	return out
}

// Categories summarizes entities grouped by normalized category. The
// summary name is the spelling of the category's first occurrence; groups
// are ordered by name for stable output.
func (r *Registry) Categories() []CategorySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byGroup := make(map[string]*CategorySummary)
	for _, e := range r.entities {
		group := e.CategoryGroup()
		s, ok := byGroup[group]
		if !ok {
			s = &CategorySummary{Name: e.Category}
			byGroup[group] = s
		}
		s.Count++
		if e.Selected {
			s.SelectedCount++
		}
		if e.HasRedaction {
			s.RedactedCount++
		}
	}

	out := make([]CategorySummary, 0, len(byGroup))
	for _, s := range byGroup {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MembersOfCategory returns copies of the entities whose category
// normalizes to the same group as name, in load order.
func (r *Registry) MembersOfCategory(name string) []ManagedEntity {
	group := NormalizeCategory(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ManagedEntity
	for _, e := range r.entities {
		if e.CategoryGroup() == group {
			out = append(out, *e)
		}
	}
	return out
}

// SetSelected updates the selection flag.
func (r *Registry) SetSelected(id string, selected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set selected %q: %w", id, ErrNotFound)
	}
	e.Selected = selected
	return nil
}

// SetHighlighted updates the preview highlight flag. Setting it on one
// entity clears it on every other, so at most one entity is highlighted.
func (r *Registry) SetHighlighted(id string, highlighted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set highlighted %q: %w", id, ErrNotFound)
	}
	if highlighted {
		for _, other := range r.entities {
			other.Highlighted = false
		}
	}
	e.Highlighted = highlighted
	return nil
}

// ClearHighlighted clears the highlight flag on every entity.
func (r *Registry) ClearHighlighted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		e.Highlighted = false
	}
}

// SetHasRedaction updates the redaction flag.
func (r *Registry) SetHasRedaction(id string, has bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set redaction flag %q: %w", id, ErrNotFound)
	}
	e.HasRedaction = has
	return nil
}

// SetPageNumber records the page of the entity's first located occurrence.
// Once set, later calls with a different page are ignored; page stability
// keeps entity listings from jumping between refreshes.
func (r *Registry) SetPageNumber(id string, page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set page %q: %w", id, ErrNotFound)
	}
	if e.PageNumber == 0 && page > 0 {
		e.PageNumber = page
	}
	return nil
}
