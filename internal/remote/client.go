// Package remote defines the contract with the durable remote store and
// provides its two client implementations: HTTPClient (JSON over HTTP)
// and Memory (in-process, for tests and demos).
//
// The remote store is the source of truth. It assigns a monotonically
// increasing version to every accepted entity write and a monotonic
// per-scope cursor used by the delta-poll endpoint.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gridstone/tidewater/internal/entity"
)

// Cursor is the opaque "since" token of a synchronized scope. Clients
// never interpret it; they store the value returned by the last
// successful ChangesSince call and echo it on the next one. The server
// guarantees it is monotonic per scope.
type Cursor string

// CursorStart is the cursor that selects every change a scope has ever
// seen. Used before the first successful poll.
const CursorStart Cursor = "0"

// Less reports whether c orders before other. Cursors compare as
// unsigned decimals without leading zeros: a longer string is larger,
// equal lengths compare lexicographically. Clients only use this to
// refuse rewinding, never to compute deltas themselves.
func (c Cursor) Less(other Cursor) bool {
	if len(c) != len(other) {
		return len(c) < len(other)
	}
	return c < other
}

// Envelope is the wire form of one entity: its type, identity, version,
// and the type-specific payload. Deleted envelopes carry no payload.
type Envelope struct {
	Type      entity.Type     `json:"type"`
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	Deleted   bool            `json:"deleted,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the envelope payload into the concrete entity value
// for its type.
func (e Envelope) Decode() (any, error) {
	return entity.New(e.Type, e.Payload)
}

// Delta is the response of the delta-poll endpoint: everything changed
// in a scope since the requested cursor, plus the cursor to use next time.
type Delta struct {
	Changed []Envelope `json:"changed"`
	Cursor  Cursor     `json:"cursor"`
}

// Snapshot is the full state of a scope, used for initial hydration
// before polling begins.
type Snapshot struct {
	ScopeID  string     `json:"scope_id"`
	Entities []Envelope `json:"entities"`
	Cursor   Cursor     `json:"cursor"`
}

// Client is the remote store contract consumed by the mutation pipeline
// (Create/Update/Delete) and the delta poller (ChangesSince/Get).
//
// Error semantics: Create fails with CodeConflict if the id already
// exists remotely and CodeNotFound if the parent scope is missing.
// Update fails with CodeNotFound if the id is absent. Delete is
// idempotent; an absent id is not an error. Transport-level failures
// surface as CodeNetworkFailure.
type Client interface {
	Create(ctx context.Context, scopeID string, typ entity.Type, payload any) (Envelope, error)
	Update(ctx context.Context, scopeID string, typ entity.Type, id string, payload any) (Envelope, error)
	Delete(ctx context.Context, scopeID string, typ entity.Type, id string) error
	ChangesSince(ctx context.Context, scopeID string, since Cursor) (Delta, error)
	Get(ctx context.Context, scopeID string) (Snapshot, error)
}

// Encode wraps a concrete entity value into an envelope. Used by clients
// building request bodies and by the Memory implementation.
func Encode(typ entity.Type, id string, version int64, updatedAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, NewValidationError(typ, id, "payload not serializable: "+err.Error())
	}
	return Envelope{
		Type:      typ,
		ID:        id,
		Version:   version,
		UpdatedAt: updatedAt,
		Payload:   raw,
	}, nil
}
