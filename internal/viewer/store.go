package viewer

import "sync"

// AnnotationStore holds the annotations of one document view.
type AnnotationStore interface {
	// Add stores the annotation and returns its assigned ID.
	Add(a Annotation) AnnotationID
	// Remove deletes an annotation by ID and reports whether it existed.
	Remove(id AnnotationID) bool
	// RemoveWhere deletes every annotation the predicate matches and
	// returns the number removed.
	RemoveWhere(pred func(Annotation) bool) int
	// List returns all annotations in insertion order.
	List() []Annotation
	// ByEntity returns the annotations tagged with the given entity ID,
	// in insertion order.
	ByEntity(entityID string) []Annotation
	// Redraw marks the end of a batch of changes. Implementations backed
	// by a real view repaint here.
	Redraw()
}

// MemStore is the in-memory AnnotationStore. Safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	anns     []Annotation
	nextID   AnnotationID
	revision uint64
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Add implements AnnotationStore.
func (s *MemStore) Add(a Annotation) AnnotationID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.anns = append(s.anns, a.withID(s.nextID))
	return s.nextID
}

// Remove implements AnnotationStore.
func (s *MemStore) Remove(id AnnotationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.anns {
		if a.Meta().ID == id {
			s.anns = append(s.anns[:i], s.anns[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveWhere implements AnnotationStore.
func (s *MemStore) RemoveWhere(pred func(Annotation) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.anns[:0]
	removed := 0
	for _, a := range s.anns {
		if pred(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.anns); i++ {
		s.anns[i] = nil
	}
	s.anns = kept
	return removed
}

// List implements AnnotationStore.
func (s *MemStore) List() []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Annotation, len(s.anns))
	copy(out, s.anns)
	return out
}

// ByEntity implements AnnotationStore.
func (s *MemStore) ByEntity(entityID string) []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Annotation
	for _, a := range s.anns {
		if a.Meta().EntityID == entityID {
			out = append(out, a)
		}
	}
	return out
}

// Redraw implements AnnotationStore by bumping the revision counter.
func (s *MemStore) Redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
}

// Revision returns the number of Redraw calls. Pollers use it to detect
// repaint points without diffing annotation lists.
func (s *MemStore) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Len returns the number of stored annotations.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.anns)
}
