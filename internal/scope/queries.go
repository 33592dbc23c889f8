package scope

import (
	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/order"
	"github.com/gridstone/tidewater/internal/query"
	"github.com/gridstone/tidewater/internal/store"
)

// WatchColumns yields the table's columns ordered by position, unranked
// positions compare normally and ties fall back to id.
func (sc *Scope) WatchColumns(tableID string) *query.Query[entity.Column] {
	return query.Watch(sc.Columns, query.Selector[entity.Column]{
		Filter: func(c entity.Column) bool { return c.TableID == tableID },
		Less:   func(a, b entity.Column) bool { return a.Position < b.Position },
	})
}

// WatchRecords yields the table's rows ordered by position.
func (sc *Scope) WatchRecords(tableID string) *query.Query[entity.Record] {
	return query.Watch(sc.Records, query.Selector[entity.Record]{
		Filter: func(r entity.Record) bool { return r.TableID == tableID },
		Less:   func(a, b entity.Record) bool { return a.Position < b.Position },
	})
}

// WatchCells yields every cell of a table. Rendering layers index the
// result by (record, column) themselves.
func (sc *Scope) WatchCells(tableID string) *query.Query[entity.Cell] {
	return query.Watch(sc.Cells, query.Selector[entity.Cell]{
		Filter: func(c entity.Cell) bool { return c.TableID == tableID },
	})
}

// FindCell is a find-one query for the cell at (record, column):
// at most one result, absent until the cell exists.
func (sc *Scope) FindCell(recordID, columnID string) *query.Query[entity.Cell] {
	return query.Watch(sc.Cells, query.Selector[entity.Cell]{
		Filter: func(c entity.Cell) bool {
			return c.RecordRef == recordID && c.ColumnRef == columnID
		},
	})
}

// WatchBlocks yields a workbook's blocks in block-order rank, unranked
// blocks last, ties broken by id.
//
// The ordering key lives on the workbook entity, not the blocks, so the
// query re-evaluates on workbook changes too; Close detaches both
// subscriptions.
func (sc *Scope) WatchBlocks(workbookID string) (*query.Query[entity.Block], func()) {
	rank := func(blockID string) int {
		wb, ok := sc.Workbooks.Get(workbookID)
		if !ok {
			return order.Unranked
		}
		return order.Index(wb.BlockOrder).Rank(blockID)
	}
	q := query.Watch(sc.Blocks, query.Selector[entity.Block]{
		Filter: func(b entity.Block) bool { return b.WorkbookID == workbookID },
		Less: func(a, b entity.Block) bool {
			ra, rb := rank(a.ID), rank(b.ID)
			if ra != rb {
				return ra < rb
			}
			return a.ID < b.ID
		},
	})
	unsubWB := sc.Workbooks.Subscribe(func(store.Change) { q.Refresh() })
	return q, func() {
		unsubWB()
		q.Close()
	}
}
