package state

import (
	"iter"
	"strconv"
)

// Id is a session-local identifier for an entity of kind T. Ids are small,
// assigned in first-seen order starting at 1, and never reused.
type Id[T any] uint64

func (id Id[T]) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Ids maps remote span ids to local ids for one entity kind.
type Ids[T any] struct {
	next Id[T]
	m    map[uint64]Id[T]
}

// IdFor returns the local id for a remote span id, allocating the next one on
// first sight.
func (ids *Ids[T]) IdFor(spanID uint64) Id[T] {
	if id, ok := ids.m[spanID]; ok {
		return id
	}
	if ids.m == nil {
		ids.m = make(map[uint64]Id[T])
	}
	ids.next++
	id := ids.next
	ids.m[spanID] = id
	return id
}

// Lookup returns the local id for a span id without allocating one.
func (ids *Ids[T]) Lookup(spanID uint64) (Id[T], bool) {
	id, ok := ids.m[spanID]
	return id, ok
}

// Visibility controls whether inserts are tracked in the new-items set.
type Visibility int

const (
	// Show tracks inserted ids until the next TakeNewItems.
	Show Visibility = iota
	// Hide inserts without tracking.
	Hide
)

// Store owns every entity of one kind, keyed by local id.
type Store[T any] struct {
	items    map[Id[T]]*T
	ids      Ids[T]
	newItems []Id[T]
	// pending holds the ids in newItems.
	pending map[Id[T]]struct{}
}

// NewStore creates an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{
		items:   make(map[Id[T]]*T),
		pending: make(map[Id[T]]struct{}),
	}
}

// Ref is a weak back-reference to an entity. It does not keep the entity
// alive: every access looks the id up in the owning store.
type Ref[T any] struct {
	id    Id[T]
	store *Store[T]
}

// Id returns the referenced entity's local id.
func (r Ref[T]) Id() Id[T] {
	return r.id
}

// Get returns the entity if it is still stored.
func (r Ref[T]) Get() (*T, bool) {
	if r.store == nil {
		return nil, false
	}
	return r.store.Get(r.id)
}

// Ids returns the store's remote id mapping.
func (s *Store[T]) Ids() *Ids[T] {
	return &s.ids
}

// Len returns the number of stored entities.
func (s *Store[T]) Len() int {
	return len(s.items)
}

// Get returns the entity with the given local id.
func (s *Store[T]) Get(id Id[T]) (*T, bool) {
	item, ok := s.items[id]
	return item, ok
}

// Ref returns a weak reference to id.
func (s *Store[T]) Ref(id Id[T]) Ref[T] {
	return Ref[T]{id: id, store: s}
}

// All yields every stored entity in no particular order.
func (s *Store[T]) All() iter.Seq2[Id[T], *T] {
	return func(yield func(Id[T], *T) bool) {
		for id, item := range s.items {
			if !yield(id, item) {
				return
			}
		}
	}
}

// Refs yields a weak reference to every stored entity in no particular order.
func (s *Store[T]) Refs() iter.Seq[Ref[T]] {
	return func(yield func(Ref[T]) bool) {
		for id := range s.items {
			if !yield(s.Ref(id)) {
				return
			}
		}
	}
}

// TakeNewItems drains the ids inserted with Show since the previous call, in
// insertion order. Ids evicted before the drain are skipped.
func (s *Store[T]) TakeNewItems() []Ref[T] {
	if len(s.newItems) == 0 {
		return nil
	}
	refs := make([]Ref[T], 0, len(s.newItems))
	for _, id := range s.newItems {
		if _, ok := s.items[id]; ok {
			refs = append(refs, s.Ref(id))
		}
	}
	s.newItems = s.newItems[:0]
	clear(s.pending)
	return refs
}

// Retain removes every entity for which keep returns false.
func (s *Store[T]) Retain(keep func(Id[T], *T) bool) {
	for id, item := range s.items {
		if !keep(id, item) {
			delete(s.items, id)
		}
	}
}

// InsertWith builds one entity per record and inserts it. build returns false
// to skip a record it cannot construct; the rest of the batch is unaffected.
// A record whose id is already stored replaces the stored entity.
func InsertWith[T, U any](s *Store[T], visibility Visibility, records []U, build func(*Ids[T], U) (Id[T], *T, bool)) {
	for _, record := range records {
		id, item, ok := build(&s.ids, record)
		if !ok {
			continue
		}
		_, existed := s.items[id]
		s.items[id] = item
		if visibility == Show && !existed {
			s.track(id)
		}
	}
}

// track queues id for the next TakeNewItems. An id evicted and reinserted
// before the drain is queued once.
func (s *Store[T]) track(id Id[T]) {
	if _, ok := s.pending[id]; ok {
		return
	}
	s.pending[id] = struct{}{}
	s.newItems = append(s.newItems, id)
}

// Updated pairs every delta with the stored entity its span id maps to.
// Deltas for unknown or evicted entities are dropped.
func Updated[T, U any](s *Store[T], deltas map[uint64]U) iter.Seq2[U, *T] {
	return func(yield func(U, *T) bool) {
		for spanID, delta := range deltas {
			id, ok := s.ids.Lookup(spanID)
			if !ok {
				continue
			}
			item, ok := s.items[id]
			if !ok {
				continue
			}
			if !yield(delta, item) {
				return
			}
		}
	}
}
