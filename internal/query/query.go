// Package query keeps derived results in sync with an entity store.
//
// A Query wraps one store with a declarative selector (filter plus
// optional ordering) and re-evaluates synchronously on every store
// notification. Evaluation only reads the store, and the store's
// dispatch loop is non-recursive, so re-evaluating during a notification
// can never re-trigger the cycle that caused it.
package query

import (
	"sort"
	"sync"

	"github.com/gridstone/tidewater/internal/store"
)

// Selector describes which entities a query yields and in what order.
type Selector[R store.Keyed] struct {
	// Filter keeps entities it returns true for. Nil keeps everything.
	Filter func(R) bool

	// Less orders the results. Nil orders by id. Ties under Less are
	// broken by id, so equal keys still yield a stable order.
	Less func(a, b R) bool
}

// Query is a live view over one store. Create with Watch, release with
// Close.
type Query[R store.Keyed] struct {
	src *store.Store[R]
	sel Selector[R]

	mu      sync.Mutex
	results []R
	subs    map[int]func([]R)
	nextSub int

	detach func()
}

// Watch registers a live query against src and evaluates it once.
func Watch[R store.Keyed](src *store.Store[R], sel Selector[R]) *Query[R] {
	q := &Query[R]{
		src:  src,
		sel:  sel,
		subs: make(map[int]func([]R)),
	}
	q.evaluate()
	q.detach = src.Subscribe(func(store.Change) {
		q.evaluate()
		q.notify()
	})
	return q
}

// Results returns the current result set. The returned slice is owned by
// the caller.
func (q *Query[R]) Results() []R {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]R(nil), q.results...)
}

// One returns the first result, for find-one selectors: at most one
// record, or ok=false when the result set is empty.
func (q *Query[R]) One() (R, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.results) == 0 {
		var zero R
		return zero, false
	}
	return q.results[0], true
}

// Subscribe registers fn for every re-evaluation and returns the current
// result alongside the unsubscribe function, so a subscriber renders
// once immediately and then only on change notifications.
func (q *Query[R]) Subscribe(fn func([]R)) (current []R, unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	current = append([]R(nil), q.results...)
	q.mu.Unlock()
	return current, func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// Refresh re-evaluates and notifies even though the queried store did
// not change. Used when the ordering key lives on another entity (a
// workbook's block order) and that entity changed.
func (q *Query[R]) Refresh() {
	q.evaluate()
	q.notify()
}

// Close detaches the query from its store. Further store changes no
// longer re-evaluate; existing results remain readable.
func (q *Query[R]) Close() {
	if q.detach != nil {
		q.detach()
		q.detach = nil
	}
}

// evaluate recomputes results from the store. store.All returns entities
// sorted by id, and the sort below is stable, so ties under Less keep id
// order.
func (q *Query[R]) evaluate() {
	all := q.src.All()
	matched := all[:0:0]
	for _, r := range all {
		if q.sel.Filter == nil || q.sel.Filter(r) {
			matched = append(matched, r)
		}
	}
	if q.sel.Less != nil {
		sort.SliceStable(matched, func(i, j int) bool {
			return q.sel.Less(matched[i], matched[j])
		})
	}
	q.mu.Lock()
	q.results = matched
	q.mu.Unlock()
}

// notify fans the current result out to subscribers, outside the lock.
func (q *Query[R]) notify() {
	q.mu.Lock()
	fns := make([]func([]R), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	snapshot := append([]R(nil), q.results...)
	q.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}
