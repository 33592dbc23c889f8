package remote

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gridstone/tidewater/internal/entity"
)

// Memory is an in-process Client used by tests, the scenario harness,
// and the demo command. It mirrors the reference server's semantics:
// per-entity monotonic versions, a per-scope monotonic change cursor,
// tombstones for deletes, idempotent delete.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	scopes map[string]*memScope
	now    func() time.Time
	err    error // when set, every call fails with it
}

type memScope struct {
	seq     int64 // change cursor clock
	entries map[string]*memEntry
}

type memEntry struct {
	env Envelope
	seq int64 // seq of the latest change to this entity
}

// MemoryOption configures a Memory client.
type MemoryOption func(*Memory)

// WithNow overrides the wall clock, for deterministic timestamps.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory remote store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		scopes: make(map[string]*memScope),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateScope registers a scope. Creating an existing scope is a no-op.
func (m *Memory) CreateScope(scopeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scopes[scopeID]; !ok {
		m.scopes[scopeID] = &memScope{entries: make(map[string]*memEntry)}
	}
}

// SetFailure makes every subsequent call fail with err until cleared
// with SetFailure(nil). Used to exercise tick-failure paths.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func key(typ entity.Type, id string) string { return string(typ) + "/" + id }

// Create implements Client.
func (m *Memory) Create(ctx context.Context, scopeID string, typ entity.Type, payload any) (Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Envelope{}, NewNetworkError("create", m.err)
	}
	sc, ok := m.scopes[scopeID]
	if !ok {
		return Envelope{}, NewScopeNotFoundError(scopeID)
	}

	env, err := Encode(typ, "", 0, m.now(), payload)
	if err != nil {
		return Envelope{}, err
	}
	id, err := payloadID(env)
	if err != nil {
		return Envelope{}, err
	}
	k := key(typ, id)
	var prev int64
	if e, exists := sc.entries[k]; exists {
		if !e.env.Deleted {
			return Envelope{}, NewConflictError(typ, id)
		}
		// Re-creating a tombstoned id continues its version sequence;
		// restarting at 1 would lose to any stale higher-version copy
		// under the >= merge rule.
		prev = e.env.Version
	}

	env.ID = id
	now := m.now()
	env, err = stampMeta(env, prev+1, now, now)
	if err != nil {
		return Envelope{}, err
	}
	sc.seq++
	sc.entries[k] = &memEntry{env: env, seq: sc.seq}
	return env, nil
}

// Update implements Client. The stored payload is replaced wholesale and
// the version incremented.
func (m *Memory) Update(ctx context.Context, scopeID string, typ entity.Type, id string, payload any) (Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Envelope{}, NewNetworkError("update", m.err)
	}
	sc, ok := m.scopes[scopeID]
	if !ok {
		return Envelope{}, NewScopeNotFoundError(scopeID)
	}
	e, ok := sc.entries[key(typ, id)]
	if !ok || e.env.Deleted {
		return Envelope{}, NewNotFoundError(typ, id)
	}

	env, err := Encode(typ, id, e.env.Version+1, m.now(), payload)
	if err != nil {
		return Envelope{}, err
	}
	env, err = stampMeta(env, e.env.Version+1, m.now(), time.Time{})
	if err != nil {
		return Envelope{}, err
	}
	sc.seq++
	e.env = env
	e.seq = sc.seq
	return env, nil
}

// Delete implements Client. Absent ids are not an error; present ids
// become tombstones reported by the next ChangesSince.
func (m *Memory) Delete(ctx context.Context, scopeID string, typ entity.Type, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return NewNetworkError("delete", m.err)
	}
	sc, ok := m.scopes[scopeID]
	if !ok {
		return NewScopeNotFoundError(scopeID)
	}
	e, ok := sc.entries[key(typ, id)]
	if !ok || e.env.Deleted {
		return nil
	}
	sc.seq++
	e.env.Deleted = true
	e.env.Payload = nil
	e.env.Version++
	e.env.UpdatedAt = m.now()
	e.seq = sc.seq
	return nil
}

// ChangesSince implements Client. The cursor is the scope's change seq
// rendered as a decimal string; "0" (CursorStart) selects everything.
func (m *Memory) ChangesSince(ctx context.Context, scopeID string, since Cursor) (Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Delta{}, NewNetworkError("changes", m.err)
	}
	sc, ok := m.scopes[scopeID]
	if !ok {
		return Delta{}, NewScopeNotFoundError(scopeID)
	}
	sinceSeq, err := parseCursor(since)
	if err != nil {
		return Delta{}, err
	}

	delta := Delta{Cursor: Cursor(strconv.FormatInt(sc.seq, 10))}
	for _, e := range sc.entries {
		if e.seq > sinceSeq {
			delta.Changed = append(delta.Changed, e.env)
		}
	}
	sortEnvelopes(delta.Changed)
	return delta, nil
}

// Get implements Client: a full snapshot of the scope's live entities.
func (m *Memory) Get(ctx context.Context, scopeID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Snapshot{}, NewNetworkError("get", m.err)
	}
	sc, ok := m.scopes[scopeID]
	if !ok {
		return Snapshot{}, NewScopeNotFoundError(scopeID)
	}

	snap := Snapshot{
		ScopeID: scopeID,
		Cursor:  Cursor(strconv.FormatInt(sc.seq, 10)),
	}
	for _, e := range sc.entries {
		if !e.env.Deleted {
			snap.Entities = append(snap.Entities, e.env)
		}
	}
	sortEnvelopes(snap.Entities)
	return snap, nil
}

func parseCursor(c Cursor) (int64, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(c), 10, 64)
	if err != nil {
		return 0, NewValidationError("", "", fmt.Sprintf("malformed cursor %q", c))
	}
	return n, nil
}
