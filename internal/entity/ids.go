package entity

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique entity ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 entity ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids created
// later sort later. That keeps tie-breaking by id stable with respect to
// creation order in live-query results.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// This enables deterministic scenarios and golden trace comparison.
// After the provided ids are exhausted, NewID panics: a test asking for
// more ids than it scripted is a test bug.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator returning the given ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("entity: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
