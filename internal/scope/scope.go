// Package scope wires the engine together: one Scope owns the entity
// stores, the mutation pipeline, and the delta poller for one bounded
// collection context (one table, one workbook). Scopes come from an
// explicit Registry; there is no ambient process-wide store state.
package scope

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/mutate"
	"github.com/gridstone/tidewater/internal/poller"
	"github.com/gridstone/tidewater/internal/remote"
	"github.com/gridstone/tidewater/internal/store"
)

// Scope is the local replica of one synchronized collection context.
//
// The stores are exported: readers and live queries use them directly.
// Mutations go through the typed wrappers below (or any caller-composed
// mutate.Mutation), never by writing to a store behind the pipeline's
// back: a store write outside the pipeline is a local-only edit the
// remote store will never learn about.
type Scope struct {
	ID string

	Tables    *store.Store[entity.Table]
	Columns   *store.Store[entity.Column]
	Records   *store.Store[entity.Record]
	Cells     *store.Store[entity.Cell]
	Workbooks *store.Store[entity.Workbook]
	Blocks    *store.Store[entity.Block]

	pipeline *mutate.Pipeline
	poll     *poller.Poller
	ids      entity.IDGenerator
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newScope(id string, client remote.Client, ids entity.IDGenerator, logger *slog.Logger, opts ...poller.Option) *Scope {
	sc := &Scope{
		ID:        id,
		Tables:    store.New[entity.Table](),
		Columns:   store.New[entity.Column](),
		Records:   store.New[entity.Record](),
		Cells:     store.New[entity.Cell](),
		Workbooks: store.New[entity.Workbook](),
		Blocks:    store.New[entity.Block](),
		ids:       ids,
		logger:    logger,
	}
	sc.pipeline = mutate.New(client, id, logger, sc.applyConfirmation)
	sc.poll = poller.New(client, id, sc, opts...)
	return sc
}

// NewID mints an id for a locally created entity.
func (sc *Scope) NewID() string { return sc.ids.NewID() }

// Cursor returns the scope's current sync cursor.
func (sc *Scope) Cursor() remote.Cursor { return sc.poll.Cursor() }

// Poll runs one delta poll cycle immediately. The registry's background
// loop calls the same path on its interval; tests and the harness call
// Poll directly for deterministic ticks.
func (sc *Scope) Poll(ctx context.Context) error { return sc.poll.Tick(ctx) }

// MergeDelta implements poller.Merger.
//
// The batch is decoded up front: one malformed envelope fails the whole
// tick before anything is applied, so the cursor stays put and the full
// window is retried. Applications are grouped per store and wrapped in
// one WriteBatch per touched store, so a delta spanning many records
// produces one notification per store, not one per record.
func (sc *Scope) MergeDelta(delta remote.Delta) (applied, stale int, err error) {
	decoded := make([]any, len(delta.Changed))
	for i, env := range delta.Changed {
		if env.Deleted {
			continue
		}
		v, err := env.Decode()
		if err != nil {
			return 0, 0, fmt.Errorf("merge delta for scope %q: %w", sc.ID, err)
		}
		decoded[i] = v
	}

	count := func(out store.Outcome) {
		if out == store.OutcomeStale {
			stale++
		} else {
			applied++
		}
	}

	sc.eachStoreBatch(func() {
		for i, env := range delta.Changed {
			if env.Deleted {
				sc.deleteLocal(env.Type, env.ID)
				applied++
				continue
			}
			count(sc.applyDecoded(env.Type, decoded[i]))
		}
	})
	return applied, stale, nil
}

// applyConfirmation merges the envelope of a confirmed sync mutation.
// Same version-checked path as a polled delta, so a confirmation racing
// a newer local write cannot clobber it.
func (sc *Scope) applyConfirmation(env remote.Envelope) {
	v, err := env.Decode()
	if err != nil {
		sc.logger.Warn("undecodable mutation confirmation dropped",
			"scope", sc.ID, "type", string(env.Type), "id", env.ID, "error", err)
		return
	}
	sc.applyDecoded(env.Type, v)
}

// applyDecoded routes a decoded entity to its store's versioned merge.
func (sc *Scope) applyDecoded(typ entity.Type, v any) store.Outcome {
	switch typ {
	case entity.TypeTable:
		return sc.Tables.ApplyRemote(v.(entity.Table))
	case entity.TypeColumn:
		return sc.Columns.ApplyRemote(v.(entity.Column))
	case entity.TypeRecord:
		return sc.Records.ApplyRemote(v.(entity.Record))
	case entity.TypeCell:
		return sc.Cells.ApplyRemote(v.(entity.Cell))
	case entity.TypeWorkbook:
		return sc.Workbooks.ApplyRemote(v.(entity.Workbook))
	case entity.TypeBlock:
		return sc.Blocks.ApplyRemote(v.(entity.Block))
	default:
		// Decode already rejected unknown types.
		panic("unreachable entity type " + typ)
	}
}

func (sc *Scope) deleteLocal(typ entity.Type, id string) {
	switch typ {
	case entity.TypeTable:
		sc.Tables.Delete(id)
	case entity.TypeColumn:
		sc.Columns.Delete(id)
	case entity.TypeRecord:
		sc.Records.Delete(id)
	case entity.TypeCell:
		sc.Cells.Delete(id)
	case entity.TypeWorkbook:
		sc.Workbooks.Delete(id)
	case entity.TypeBlock:
		sc.Blocks.Delete(id)
	}
}

// eachStoreBatch runs fn inside a WriteBatch on every store, nested, so
// whichever stores fn touches coalesce their notifications.
func (sc *Scope) eachStoreBatch(fn func()) {
	sc.Tables.WriteBatch(func() {
		sc.Columns.WriteBatch(func() {
			sc.Records.WriteBatch(func() {
				sc.Cells.WriteBatch(func() {
					sc.Workbooks.WriteBatch(func() {
						sc.Blocks.WriteBatch(fn)
					})
				})
			})
		})
	})
}

// hydrate seeds the stores from a full snapshot before polling begins.
func (sc *Scope) hydrate(snap remote.Snapshot) error {
	_, _, err := sc.MergeDelta(remote.Delta{Changed: snap.Entities, Cursor: snap.Cursor})
	return err
}

// stop cancels the background poll loop and waits for it to exit. A
// scope without a running loop (manual polling) stops trivially.
func (sc *Scope) stop() {
	if sc.cancel == nil {
		return
	}
	sc.cancel()
	<-sc.done
}

// Registry creates and owns scopes: one per scope id, created on first
// Open, torn down on Close.
type Registry struct {
	client   remote.Client
	logger   *slog.Logger
	ids      entity.IDGenerator
	pollOpts []poller.Option
	manual   bool

	mu     sync.Mutex
	scopes map[string]*Scope
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithIDGenerator overrides id generation (tests use a FixedGenerator).
func WithIDGenerator(g entity.IDGenerator) RegistryOption {
	return func(r *Registry) { r.ids = g }
}

// WithPollerOptions forwards options to every scope's poller.
func WithPollerOptions(opts ...poller.Option) RegistryOption {
	return func(r *Registry) { r.pollOpts = opts }
}

// WithManualPolling disables the background poll loop; callers drive
// ticks through Scope.Poll. The harness uses this for determinism.
func WithManualPolling() RegistryOption {
	return func(r *Registry) { r.manual = true }
}

// NewRegistry creates a registry over one remote client.
func NewRegistry(client remote.Client, opts ...RegistryOption) *Registry {
	r := &Registry{
		client: client,
		logger: slog.Default(),
		ids:    entity.UUIDv7Generator{},
		scopes: make(map[string]*Scope),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the scope for scopeID, creating and hydrating it on the
// first call. Hydration fetches the full remote snapshot, seeds the
// stores, and (unless manual polling is on) starts the poll loop from
// the snapshot's cursor.
func (r *Registry) Open(ctx context.Context, scopeID string) (*Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.scopes[scopeID]; ok {
		return sc, nil
	}

	snap, err := r.client.Get(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("open scope %q: %w", scopeID, err)
	}

	opts := append([]poller.Option{poller.WithLogger(r.logger)}, r.pollOpts...)
	opts = append(opts, poller.WithCursor(snap.Cursor))
	sc := newScope(scopeID, r.client, r.ids, r.logger, opts...)
	if err := sc.hydrate(snap); err != nil {
		return nil, fmt.Errorf("open scope %q: %w", scopeID, err)
	}

	if !r.manual {
		pollCtx, cancel := context.WithCancel(context.Background())
		sc.cancel = cancel
		sc.done = make(chan struct{})
		go func() {
			sc.poll.Run(pollCtx)
			close(sc.done)
		}()
	}

	r.scopes[scopeID] = sc
	return sc, nil
}

// Close tears down a single scope. Closing an unopened scope is a no-op.
func (r *Registry) Close(scopeID string) {
	r.mu.Lock()
	sc, ok := r.scopes[scopeID]
	delete(r.scopes, scopeID)
	r.mu.Unlock()
	if ok {
		sc.stop()
	}
}

// CloseAll tears down every open scope.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	scopes := make([]*Scope, 0, len(r.scopes))
	for _, sc := range r.scopes {
		scopes = append(scopes, sc)
	}
	r.scopes = make(map[string]*Scope)
	r.mu.Unlock()
	for _, sc := range scopes {
		sc.stop()
	}
}
