// Package store implements the keyed in-memory entity container the sync
// engine replicates remote state into.
//
// One Store holds one entity type for one scope. Mutations notify
// subscribers exactly once per mutating call; WriteBatch coalesces any
// number of mutations into a single notification so a delta merge touching
// many records does not fan out N re-evaluations downstream.
//
// Concurrency model: a store has a single logical owner (the scope that
// created it), but the poller goroutine merges deltas into the same store,
// so all state is guarded by an internal mutex. Subscriber callbacks are
// invoked without the lock held and may read the store freely; a callback
// that mutates the store does not recurse into dispatch; the change is
// queued and delivered by the active dispatch loop.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Keyed is the constraint every replicated entity satisfies.
type Keyed interface {
	// RecordID returns the entity's unique id. Stable for the lifetime
	// of the entity; an update never changes it.
	RecordID() string
	// RecordVersion returns the server-assigned monotonic version.
	RecordVersion() int64
}

// Sentinel errors for local store operations. Callers match with errors.Is.
var (
	// ErrExists is returned by Insert when the id is already present.
	ErrExists = errors.New("id already exists")
	// ErrNotFound is returned by Update when the id is absent.
	ErrNotFound = errors.New("id not found")
	// ErrIDChanged is returned by Update when the mutator changed the id.
	ErrIDChanged = errors.New("update changed entity id")
)

// Change describes one notification: the ids touched since the previous
// notification, stamped with the store's own monotonic sequence.
type Change struct {
	Seq int64
	IDs []string // sorted, deduplicated
}

// Outcome reports how ApplyRemote resolved an incoming entity.
type Outcome int

const (
	// OutcomeInserted means the entity was absent locally and inserted.
	OutcomeInserted Outcome = iota + 1
	// OutcomeUpdated means the incoming version won and replaced local state.
	OutcomeUpdated
	// OutcomeStale means the incoming version lost and was dropped.
	OutcomeStale
)

// Store is a keyed container for one entity type.
type Store[R Keyed] struct {
	mu         sync.Mutex
	records    map[string]R
	seq        int64
	batchDepth int
	dirty      map[string]struct{}

	subMu     sync.Mutex
	subs      map[int]func(Change)
	nextSub   int
	pending   []Change
	notifying bool
}

// New creates an empty store.
func New[R Keyed]() *Store[R] {
	return &Store[R]{
		records: make(map[string]R),
		dirty:   make(map[string]struct{}),
		subs:    make(map[int]func(Change)),
	}
}

// Get returns the current value for id, or ok=false if absent.
func (s *Store[R]) Get(id string) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Len returns the number of entities held.
func (s *Store[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// All returns every entity, sorted by id for deterministic iteration.
func (s *Store[R]) All() []R {
	s.mu.Lock()
	out := make([]R, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out
}

// Insert adds a new entity. Fails with ErrExists if the id is present.
func (s *Store[R]) Insert(r R) error {
	id := r.RecordID()
	s.mu.Lock()
	if _, ok := s.records[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("insert %q: %w", id, ErrExists)
	}
	s.records[id] = r
	note := s.markLocked(id)
	s.mu.Unlock()
	s.dispatch(note)
	return nil
}

// Update applies fn to a copy of the stored value and replaces it
// atomically with respect to readers. Fails with ErrNotFound if the id is
// absent, ErrIDChanged if fn rewrote the id.
func (s *Store[R]) Update(id string, fn func(*R)) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %q: %w", id, ErrNotFound)
	}
	fn(&r)
	if r.RecordID() != id {
		s.mu.Unlock()
		return fmt.Errorf("update %q: %w", id, ErrIDChanged)
	}
	s.records[id] = r
	note := s.markLocked(id)
	s.mu.Unlock()
	s.dispatch(note)
	return nil
}

// Delete removes id. Idempotent: deleting an absent id is a no-op and
// does not notify.
func (s *Store[R]) Delete(id string) {
	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.records, id)
	note := s.markLocked(id)
	s.mu.Unlock()
	s.dispatch(note)
}

// ApplyRemote merges an entity received from the remote store.
//
// Absent ids are inserted. Present ids are replaced only when
// incoming.RecordVersion() >= local version, greater-or-equal rather than
// strictly greater, so the remote echo of the client's own just-confirmed
// write still lands. Older versions are dropped as stale; re-applying the
// same delta is a version-equal overwrite and therefore idempotent.
func (s *Store[R]) ApplyRemote(r R) Outcome {
	id := r.RecordID()
	s.mu.Lock()
	local, ok := s.records[id]
	if ok && r.RecordVersion() < local.RecordVersion() {
		s.mu.Unlock()
		return OutcomeStale
	}
	s.records[id] = r
	note := s.markLocked(id)
	s.mu.Unlock()
	s.dispatch(note)
	if ok {
		return OutcomeUpdated
	}
	return OutcomeInserted
}

// WriteBatch runs fn, deferring notification until fn returns: all
// mutations made inside fn (directly or through nested batches) coalesce
// into one Change. A batch that mutates nothing does not notify.
func (s *Store[R]) WriteBatch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	// The depth must unwind even when fn panics, or the store would
	// stop notifying for good.
	defer func() {
		s.mu.Lock()
		s.batchDepth--
		var note *Change
		if s.batchDepth == 0 && len(s.dirty) > 0 {
			note = s.flushLocked()
		}
		s.mu.Unlock()
		s.dispatch(note)
	}()

	fn()
}

// Subscribe registers fn for change notifications and returns an
// unsubscribe function. fn is called once per notification, after the
// mutation that produced it has fully committed.
func (s *Store[R]) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// markLocked records id as dirty and, outside a batch, cuts a Change.
// Caller holds s.mu.
func (s *Store[R]) markLocked(id string) *Change {
	s.dirty[id] = struct{}{}
	if s.batchDepth > 0 {
		return nil
	}
	return s.flushLocked()
}

// flushLocked drains the dirty set into a Change. Caller holds s.mu.
func (s *Store[R]) flushLocked() *Change {
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	clear(s.dirty)
	s.seq++
	return &Change{Seq: s.seq, IDs: ids}
}

// dispatch delivers a change to subscribers without holding s.mu.
//
// Re-entrancy: if a subscriber callback mutates the store, the resulting
// change is appended to pending and delivered by this same loop instead of
// recursing, so a notification cycle can never re-trigger itself.
func (s *Store[R]) dispatch(note *Change) {
	if note == nil {
		return
	}
	s.subMu.Lock()
	s.pending = append(s.pending, *note)
	if s.notifying {
		s.subMu.Unlock()
		return
	}
	s.notifying = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		fns := make([]func(Change), 0, len(s.subs))
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
		s.subMu.Unlock()
		for _, fn := range fns {
			fn(next)
		}
		s.subMu.Lock()
	}
	s.notifying = false
	s.subMu.Unlock()
}
