package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/order"
	"github.com/gridstone/tidewater/internal/scope"
)

// AssertionContext carries what assertions evaluate against: the scope's
// replica state and the execution trace.
type AssertionContext struct {
	Scope  *scope.Scope
	Result *Result
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. An empty slice means all assertions held.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluate(&a, actx); msg != "" {
			failures = append(failures, fmt.Sprintf("assertion[%d] %s: %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluate(a *Assertion, actx *AssertionContext) string {
	switch a.Type {
	case AssertEntity:
		return evaluateEntity(a, actx.Scope)
	case AssertAbsent:
		if _, ok := lookup(actx.Scope, entity.Type(a.Entity), a.ID); ok {
			return fmt.Sprintf("%s %q should be absent but exists", a.Entity, a.ID)
		}
		return ""
	case AssertCount:
		got := storeLen(actx.Scope, entity.Type(a.Entity))
		if got != a.Count {
			return fmt.Sprintf("%s count = %d, want %d", a.Entity, got, a.Count)
		}
		return ""
	case AssertOrder:
		return evaluateOrder(a, actx.Scope)
	case AssertCursor:
		if got := string(actx.Scope.Cursor()); got != a.Cursor {
			return fmt.Sprintf("cursor = %q, want %q", got, a.Cursor)
		}
		return ""
	case AssertTraceCount:
		got := actx.Result.CountEvents(a.Event)
		if got != a.Count {
			return fmt.Sprintf("%q events = %d, want %d", a.Event, got, a.Count)
		}
		return ""
	}
	return fmt.Sprintf("unknown assertion type %q", a.Type)
}

// evaluateEntity subset-matches expected fields against the entity's
// JSON form, so scenarios compare values in the same shape they write
// them in payloads.
func evaluateEntity(a *Assertion, sc *scope.Scope) string {
	v, ok := lookup(sc, entity.Type(a.Entity), a.ID)
	if !ok {
		return fmt.Sprintf("%s %q not found", a.Entity, a.ID)
	}

	actual, err := toMap(v)
	if err != nil {
		return fmt.Sprintf("%s %q not comparable: %v", a.Entity, a.ID, err)
	}
	for field, want := range a.Expect {
		got, present := actual[field]
		if !present {
			return fmt.Sprintf("%s %q field %q absent, want %v", a.Entity, a.ID, field, want)
		}
		if !reflect.DeepEqual(norm(got), norm(want)) {
			return fmt.Sprintf("%s %q field %q = %v, want %v", a.Entity, a.ID, field, got, want)
		}
	}
	return ""
}

func evaluateOrder(a *Assertion, sc *scope.Scope) string {
	var got []string
	switch entity.Type(a.Entity) {
	case entity.TypeColumn:
		got = positionOrder(sc.Columns.All(), func(c entity.Column) (string, int) { return c.ID, c.Position })
	case entity.TypeRecord:
		got = positionOrder(sc.Records.All(), func(r entity.Record) (string, int) { return r.ID, r.Position })
	case entity.TypeBlock:
		wb, ok := sc.Workbooks.Get(a.Workbook)
		if !ok {
			return fmt.Sprintf("workbook %q not found", a.Workbook)
		}
		for _, blk := range sc.Blocks.All() {
			if blk.WorkbookID == a.Workbook {
				got = append(got, blk.ID)
			}
		}
		order.Index(wb.BlockOrder).Sort(got)
	default:
		return fmt.Sprintf("entity type %q has no order", a.Entity)
	}

	if !reflect.DeepEqual(got, a.IDs) {
		return fmt.Sprintf("order = %v, want %v", got, a.IDs)
	}
	return ""
}

// positionOrder sorts entities by their position field, ties by id.
func positionOrder[R any](all []R, key func(R) (string, int)) []string {
	type ranked struct {
		id   string
		rank int
	}
	rs := make([]ranked, len(all))
	for i, r := range all {
		id, rank := key(r)
		rs[i] = ranked{id, rank}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].rank != rs[j].rank {
			return rs[i].rank < rs[j].rank
		}
		return rs[i].id < rs[j].id
	})
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.id
	}
	return ids
}

func lookup(sc *scope.Scope, typ entity.Type, id string) (any, bool) {
	switch typ {
	case entity.TypeTable:
		return sc.Tables.Get(id)
	case entity.TypeColumn:
		return sc.Columns.Get(id)
	case entity.TypeRecord:
		return sc.Records.Get(id)
	case entity.TypeCell:
		return sc.Cells.Get(id)
	case entity.TypeWorkbook:
		return sc.Workbooks.Get(id)
	case entity.TypeBlock:
		return sc.Blocks.Get(id)
	}
	return nil, false
}

func storeLen(sc *scope.Scope, typ entity.Type) int {
	switch typ {
	case entity.TypeTable:
		return sc.Tables.Len()
	case entity.TypeColumn:
		return sc.Columns.Len()
	case entity.TypeRecord:
		return sc.Records.Len()
	case entity.TypeCell:
		return sc.Cells.Len()
	case entity.TypeWorkbook:
		return sc.Workbooks.Len()
	case entity.TypeBlock:
		return sc.Blocks.Len()
	}
	return 0
}

func toMap(v any) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// norm funnels a value through JSON so YAML ints and JSON floats compare
// equal.
func norm(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
