// Package order maintains the id→rank mappings that give ordered
// collections (workbook block lists, table column lists) a total order.
//
// Ranks are plain integers. Gaps are tolerated: resolution only needs a
// strict ordering, not contiguity, so deletion never renumbers the
// remainder. An id missing from the index sorts last (Unranked), so a
// malformed or partially synced order entry degrades gracefully instead
// of erroring.
package order

import "sort"

// Unranked is the rank reported for ids absent from an index. It sorts
// after every assigned rank.
const Unranked = int(^uint(0) >> 1) // math.MaxInt

// Index maps entity id to rank. The zero value (nil) is a valid empty
// index. Index values are treated as immutable: mutating operations
// return a recomputed map so the whole order can be persisted and
// observed as a single value.
type Index map[string]int

// FromSequence builds an index assigning ranks 0..n-1 in sequence order.
func FromSequence(ids []string) Index {
	ix := make(Index, len(ids))
	for i, id := range ids {
		ix[id] = i
	}
	return ix
}

// Rank returns the rank for id, or Unranked if absent.
func (ix Index) Rank(id string) int {
	if r, ok := ix[id]; ok {
		return r
	}
	return Unranked
}

// InsertAt returns a new index with id placed at position p: every
// existing id whose rank is >= p shifts up by one, ids below p keep
// their ranks. Inserting an id already present re-ranks it (it is
// removed first, then placed).
func (ix Index) InsertAt(id string, p int) Index {
	next := make(Index, len(ix)+1)
	for existing, r := range ix {
		if existing == id {
			continue
		}
		if r >= p {
			next[existing] = r + 1
		} else {
			next[existing] = r
		}
	}
	next[id] = p
	return next
}

// Remove returns a new index without id. Ranks of the remaining ids are
// untouched; the resulting gap is harmless.
func (ix Index) Remove(id string) Index {
	next := make(Index, len(ix))
	for existing, r := range ix {
		if existing != id {
			next[existing] = r
		}
	}
	return next
}

// IDs returns the indexed ids sorted by rank, ties broken by id.
func (ix Index) IDs() []string {
	ids := make([]string, 0, len(ix))
	for id := range ix {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := ix[ids[i]], ix[ids[j]]
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Sort orders ids in place by their rank in ix, unranked ids last, ties
// broken by id. ids not present in the index keep a stable relative
// order among themselves (by id).
func (ix Index) Sort(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := ix.Rank(ids[i]), ix.Rank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
}
