package scope

import (
	"context"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/mutate"
	"github.com/gridstone/tidewater/internal/order"
	"github.com/gridstone/tidewater/internal/store"
)

// The typed wrappers below are the scope's mutation surface. Each one
// builds a mutate.Mutation whose local leg writes the owning store, and
// lets the pipeline handle the mode (localOnly vs sync) uniformly.

func create[R store.Keyed](ctx context.Context, sc *Scope, s *store.Store[R], typ entity.Type, r R, mode mutate.Mode) (*mutate.Pending, error) {
	return sc.pipeline.Apply(ctx, mutate.Mutation{
		Mode:     mode,
		Op:       mutate.OpCreate,
		Type:     typ,
		EntityID: r.RecordID(),
		Apply:    func() error { return s.Insert(r) },
		Payload:  r,
	})
}

func update[R store.Keyed](ctx context.Context, sc *Scope, s *store.Store[R], typ entity.Type, id string, fn func(*R), mode mutate.Mode) (*mutate.Pending, error) {
	if err := s.Update(id, fn); err != nil {
		return nil, err
	}
	if mode == mutate.LocalOnly {
		return mutate.Resolved(), nil
	}
	updated, _ := s.Get(id)
	return sc.pipeline.Apply(ctx, mutate.Mutation{
		Mode:     mutate.Sync,
		Op:       mutate.OpUpdate,
		Type:     typ,
		EntityID: id,
		Apply:    func() error { return nil },
		Payload:  updated,
	})
}

func del[R store.Keyed](ctx context.Context, sc *Scope, s *store.Store[R], typ entity.Type, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return sc.pipeline.Apply(ctx, mutate.Mutation{
		Mode:     mode,
		Op:       mutate.OpDelete,
		Type:     typ,
		EntityID: id,
		Apply:    func() error { s.Delete(id); return nil },
	})
}

// CreateTable inserts a table optimistically and, in sync mode, sends
// the create to the remote store.
func (sc *Scope) CreateTable(ctx context.Context, tbl entity.Table, mode mutate.Mode) (*mutate.Pending, error) {
	return create(ctx, sc, sc.Tables, entity.TypeTable, tbl, mode)
}

// UpdateTable applies fn to the table and, in sync mode, sends the
// updated value.
func (sc *Scope) UpdateTable(ctx context.Context, id string, fn func(*entity.Table), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Tables, entity.TypeTable, id, fn, mode)
}

// DeleteTable removes the table locally and, in sync mode, remotely.
// Columns, records, and cells referencing it are left alone; the remote
// store owns cascade decisions and reports them through deltas.
func (sc *Scope) DeleteTable(ctx context.Context, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return del(ctx, sc, sc.Tables, entity.TypeTable, id, mode)
}

// CreateColumn inserts a column optimistically and, in sync mode, sends
// the create to the remote store.
func (sc *Scope) CreateColumn(ctx context.Context, col entity.Column, mode mutate.Mode) (*mutate.Pending, error) {
	return create(ctx, sc, sc.Columns, entity.TypeColumn, col, mode)
}

// UpdateColumn applies fn to the column and, in sync mode, sends the
// updated value.
func (sc *Scope) UpdateColumn(ctx context.Context, id string, fn func(*entity.Column), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Columns, entity.TypeColumn, id, fn, mode)
}

// DeleteColumn removes the column locally and, in sync mode, remotely.
func (sc *Scope) DeleteColumn(ctx context.Context, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return del(ctx, sc, sc.Columns, entity.TypeColumn, id, mode)
}

// CreateRecord inserts a row.
func (sc *Scope) CreateRecord(ctx context.Context, rec entity.Record, mode mutate.Mode) (*mutate.Pending, error) {
	return create(ctx, sc, sc.Records, entity.TypeRecord, rec, mode)
}

// UpdateRecord applies fn to the record.
func (sc *Scope) UpdateRecord(ctx context.Context, id string, fn func(*entity.Record), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Records, entity.TypeRecord, id, fn, mode)
}

// DeleteRecord removes a row.
func (sc *Scope) DeleteRecord(ctx context.Context, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return del(ctx, sc, sc.Records, entity.TypeRecord, id, mode)
}

// CreateCell inserts a cell.
func (sc *Scope) CreateCell(ctx context.Context, cell entity.Cell, mode mutate.Mode) (*mutate.Pending, error) {
	return create(ctx, sc, sc.Cells, entity.TypeCell, cell, mode)
}

// UpdateCell applies fn to the cell. Most callers want SetCellValue or
// SetCellError instead.
func (sc *Scope) UpdateCell(ctx context.Context, id string, fn func(*entity.Cell), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Cells, entity.TypeCell, id, fn, mode)
}

// SetCellValue writes a cell value and marks it computed. The usual
// localOnly use is draft text while the field is focused; the sync call
// happens when the edit commits.
func (sc *Scope) SetCellValue(ctx context.Context, id string, value any, mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Cells, entity.TypeCell, id, func(c *entity.Cell) {
		c.Value = value
		c.ComputeStatus = entity.ComputeComputed
		c.ComputeError = ""
	}, mode)
}

// SetCellError marks a cell's computation failed.
func (sc *Scope) SetCellError(ctx context.Context, id string, msg string, mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Cells, entity.TypeCell, id, func(c *entity.Cell) {
		c.ComputeStatus = entity.ComputeError
		c.ComputeError = msg
	}, mode)
}

// DeleteCell removes a cell.
func (sc *Scope) DeleteCell(ctx context.Context, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return del(ctx, sc, sc.Cells, entity.TypeCell, id, mode)
}

// CreateWorkbook inserts a workbook.
func (sc *Scope) CreateWorkbook(ctx context.Context, wb entity.Workbook, mode mutate.Mode) (*mutate.Pending, error) {
	return create(ctx, sc, sc.Workbooks, entity.TypeWorkbook, wb, mode)
}

// UpdateWorkbook applies fn to the workbook. Block reorders should go
// through MoveBlock, which maintains the order map.
func (sc *Scope) UpdateWorkbook(ctx context.Context, id string, fn func(*entity.Workbook), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Workbooks, entity.TypeWorkbook, id, fn, mode)
}

// DeleteWorkbook removes the workbook. Its blocks are left for the
// remote store's cascade to reclaim.
func (sc *Scope) DeleteWorkbook(ctx context.Context, id string, mode mutate.Mode) (*mutate.Pending, error) {
	return del(ctx, sc, sc.Workbooks, entity.TypeWorkbook, id, mode)
}

// UpdateBlock applies fn to the block's content fields. Position changes
// go through MoveBlock.
func (sc *Scope) UpdateBlock(ctx context.Context, id string, fn func(*entity.Block), mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Blocks, entity.TypeBlock, id, fn, mode)
}

// CreateBlock inserts a block and splices it into its workbook's block
// order at position. Two entities change (block, workbook); the
// workbook's order map is recomputed and written as one value.
func (sc *Scope) CreateBlock(ctx context.Context, blk entity.Block, position int, mode mutate.Mode) (blockPend, orderPend *mutate.Pending, err error) {
	sc.eachStoreBatch(func() {
		blockPend, err = create(ctx, sc, sc.Blocks, entity.TypeBlock, blk, mode)
		if err != nil {
			return
		}
		orderPend, err = sc.moveBlockLocked(ctx, blk.WorkbookID, blk.RecordID(), position, mode)
	})
	return blockPend, orderPend, err
}

// MoveBlock reorders an existing block to position within its workbook.
// The block is removed from the order first, then placed with insert
// semantics: ranks below the position are untouched, ranks at or above
// shift up by one. Position is a rank, not a post-removal list index,
// so moving [A,B,C]'s A to rank 2 yields [B,A,C]; moving it past every
// other rank yields [B,C,A]. The whole id→rank map is persisted as a
// single workbook update.
func (sc *Scope) MoveBlock(ctx context.Context, workbookID, blockID string, position int, mode mutate.Mode) (*mutate.Pending, error) {
	return sc.moveBlockLocked(ctx, workbookID, blockID, position, mode)
}

func (sc *Scope) moveBlockLocked(ctx context.Context, workbookID, blockID string, position int, mode mutate.Mode) (*mutate.Pending, error) {
	return update(ctx, sc, sc.Workbooks, entity.TypeWorkbook, workbookID, func(wb *entity.Workbook) {
		wb.BlockOrder = order.Index(wb.BlockOrder).InsertAt(blockID, position)
	}, mode)
}

// DeleteBlock removes a block and drops it from the workbook's order.
// The remaining ranks keep their values; the gap is tolerated.
func (sc *Scope) DeleteBlock(ctx context.Context, workbookID, blockID string, mode mutate.Mode) (blockPend, orderPend *mutate.Pending, err error) {
	sc.eachStoreBatch(func() {
		blockPend, err = del(ctx, sc, sc.Blocks, entity.TypeBlock, blockID, mode)
		if err != nil {
			return
		}
		orderPend, err = update(ctx, sc, sc.Workbooks, entity.TypeWorkbook, workbookID, func(wb *entity.Workbook) {
			wb.BlockOrder = order.Index(wb.BlockOrder).Remove(blockID)
		}, mode)
	})
	return blockPend, orderPend, err
}

// InsertColumnAt inserts a column at position in its table: existing
// columns at or above the position shift up by one, each persisted as
// its own entity write, all coalesced into one local notification.
func (sc *Scope) InsertColumnAt(ctx context.Context, col entity.Column, position int, mode mutate.Mode) (pends []*mutate.Pending, err error) {
	sc.eachStoreBatch(func() {
		for _, existing := range sc.Columns.All() {
			if existing.TableID != col.TableID || existing.Position < position {
				continue
			}
			var p *mutate.Pending
			p, err = update(ctx, sc, sc.Columns, entity.TypeColumn, existing.ID, func(c *entity.Column) {
				c.Position++
			}, mode)
			if err != nil {
				return
			}
			pends = append(pends, p)
		}
		col.Position = position
		var p *mutate.Pending
		p, err = create(ctx, sc, sc.Columns, entity.TypeColumn, col, mode)
		if err != nil {
			return
		}
		pends = append(pends, p)
	})
	return pends, err
}
