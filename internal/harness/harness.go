package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/mutate"
	"github.com/gridstone/tidewater/internal/remote"
	"github.com/gridstone/tidewater/internal/scope"
	"github.com/gridstone/tidewater/internal/testutil"
)

// Harness executes one scenario against a fresh in-memory remote store
// and a manually polled scope.
type Harness struct {
	scope  *scope.Scope
	remote *remote.Memory
	result *Result
}

// Run executes a scenario and returns its result.
//
// Each scenario runs in isolation: a fresh in-memory remote store with a
// deterministic clock, a fresh registry with manual polling. Sync legs
// are awaited before the next step runs, so the trace ordering is stable
// across runs and suitable for golden comparison.
func Run(scenario *Scenario) (*Result, error) {
	result, _, err := run(scenario)
	return result, err
}

// run also returns the scope so assertion tests can probe replica state
// after execution.
func run(scenario *Scenario) (*Result, *scope.Scope, error) {
	ctx := context.Background()
	result := NewResult()

	clock := testutil.NewClock()
	mem := remote.NewMemory(remote.WithNow(clock.Now))
	mem.CreateScope(scenario.Scope)

	for i, entry := range scenario.Seed {
		env, err := mem.Create(ctx, scenario.Scope, entity.Type(entry.Type), entry.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		result.AddEvent(TraceEvent{Event: "seed", Entity: entry.Type, ID: env.ID, Version: env.Version})
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := scope.NewRegistry(mem,
		scope.WithLogger(logger),
		scope.WithManualPolling(),
	)
	defer reg.CloseAll()

	sc, err := reg.Open(ctx, scenario.Scope)
	if err != nil {
		return nil, nil, fmt.Errorf("open scope %q: %w", scenario.Scope, err)
	}

	h := &Harness{scope: sc, remote: mem, result: result}
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, &step); err != nil {
			return nil, nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{Scope: sc, Result: result}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, sc, nil
}

func (h *Harness) runStep(ctx context.Context, step *Step) error {
	switch {
	case step.Edit != nil:
		return h.applyEdit(ctx, step.Edit)
	case step.Remote != nil:
		return h.applyRemote(ctx, step.Remote)
	case step.Poll != nil:
		h.applyPoll(ctx)
		return nil
	case step.Fail != nil:
		if step.Fail.Network {
			h.remote.SetFailure(errors.New("network unreachable"))
		} else {
			h.remote.SetFailure(nil)
		}
		return nil
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) applyEdit(ctx context.Context, e *EditStep) error {
	mode := mutate.Sync
	if e.Mode == "local_only" {
		mode = mutate.LocalOnly
	}

	switch e.Op {
	case OpCreate:
		return h.applyCreate(ctx, e, mode)
	case OpUpdate:
		return h.applyUpdate(ctx, e, mode)
	case OpDelete:
		return h.applyDelete(ctx, e, mode)
	case OpInsertColumn:
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("insert_column payload: %w", err)
		}
		var col entity.Column
		if err := json.Unmarshal(raw, &col); err != nil {
			return fmt.Errorf("insert_column payload: %w", err)
		}
		h.result.AddEvent(TraceEvent{Event: "edit", Op: e.Op, Entity: string(entity.TypeColumn), ID: col.ID, Mode: string(mode)})
		pends, err := h.scope.InsertColumnAt(ctx, col, *e.Position, mode)
		if err != nil {
			return err
		}
		for _, p := range pends {
			h.wait(ctx, p, string(entity.TypeColumn), "", mode, e.Op)
		}
		return nil
	case OpMoveBlock:
		h.result.AddEvent(TraceEvent{Event: "edit", Op: e.Op, Entity: string(entity.TypeBlock), ID: e.ID, Mode: string(mode)})
		pend, err := h.scope.MoveBlock(ctx, e.Workbook, e.ID, *e.Position, mode)
		if err != nil {
			return err
		}
		h.wait(ctx, pend, string(entity.TypeWorkbook), e.Workbook, mode, OpUpdate)
		return nil
	}
	return fmt.Errorf("unknown edit op %q", e.Op)
}

func (h *Harness) applyCreate(ctx context.Context, e *EditStep, mode mutate.Mode) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("create payload: %w", err)
	}
	v, err := entity.New(entity.Type(e.Type), raw)
	if err != nil {
		return fmt.Errorf("create payload: %w", err)
	}

	var pend *mutate.Pending
	switch val := v.(type) {
	case entity.Table:
		h.traceEdit(e, val.ID, mode)
		pend, err = h.scope.CreateTable(ctx, val, mode)
	case entity.Column:
		h.traceEdit(e, val.ID, mode)
		pend, err = h.scope.CreateColumn(ctx, val, mode)
	case entity.Record:
		h.traceEdit(e, val.ID, mode)
		pend, err = h.scope.CreateRecord(ctx, val, mode)
	case entity.Cell:
		h.traceEdit(e, val.ID, mode)
		pend, err = h.scope.CreateCell(ctx, val, mode)
	case entity.Workbook:
		h.traceEdit(e, val.ID, mode)
		pend, err = h.scope.CreateWorkbook(ctx, val, mode)
	case entity.Block:
		h.traceEdit(e, val.ID, mode)
		pos := 0
		if e.Position != nil {
			pos = *e.Position
		}
		blockPend, orderPend, berr := h.scope.CreateBlock(ctx, val, pos, mode)
		if berr != nil {
			return berr
		}
		h.wait(ctx, blockPend, e.Type, val.ID, mode, OpCreate)
		h.wait(ctx, orderPend, string(entity.TypeWorkbook), val.WorkbookID, mode, OpUpdate)
		return nil
	}
	if err != nil {
		return err
	}
	h.wait(ctx, pend, e.Type, "", mode, OpCreate)
	return nil
}

// overlay merges set fields onto the entity's JSON form. Scenario authors
// must use field values matching the entity's JSON shape.
func overlay[R any](set map[string]interface{}) func(*R) {
	return func(r *R) {
		raw, err := json.Marshal(r)
		if err != nil {
			return
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		for k, v := range set {
			m[k] = v
		}
		merged, err := json.Marshal(m)
		if err != nil {
			return
		}
		_ = json.Unmarshal(merged, r)
	}
}

func (h *Harness) applyUpdate(ctx context.Context, e *EditStep, mode mutate.Mode) error {
	h.traceEdit(e, e.ID, mode)

	var (
		pend *mutate.Pending
		err  error
	)
	switch entity.Type(e.Type) {
	case entity.TypeTable:
		pend, err = h.scope.UpdateTable(ctx, e.ID, overlay[entity.Table](e.Set), mode)
	case entity.TypeColumn:
		pend, err = h.scope.UpdateColumn(ctx, e.ID, overlay[entity.Column](e.Set), mode)
	case entity.TypeRecord:
		pend, err = h.scope.UpdateRecord(ctx, e.ID, overlay[entity.Record](e.Set), mode)
	case entity.TypeCell:
		pend, err = h.scope.UpdateCell(ctx, e.ID, overlay[entity.Cell](e.Set), mode)
	case entity.TypeWorkbook:
		pend, err = h.scope.UpdateWorkbook(ctx, e.ID, overlay[entity.Workbook](e.Set), mode)
	case entity.TypeBlock:
		pend, err = h.scope.UpdateBlock(ctx, e.ID, overlay[entity.Block](e.Set), mode)
	}
	if err != nil {
		return err
	}
	h.wait(ctx, pend, e.Type, e.ID, mode, OpUpdate)
	return nil
}

func (h *Harness) applyDelete(ctx context.Context, e *EditStep, mode mutate.Mode) error {
	h.traceEdit(e, e.ID, mode)

	var (
		pend *mutate.Pending
		err  error
	)
	switch entity.Type(e.Type) {
	case entity.TypeTable:
		pend, err = h.scope.DeleteTable(ctx, e.ID, mode)
	case entity.TypeColumn:
		pend, err = h.scope.DeleteColumn(ctx, e.ID, mode)
	case entity.TypeRecord:
		pend, err = h.scope.DeleteRecord(ctx, e.ID, mode)
	case entity.TypeCell:
		pend, err = h.scope.DeleteCell(ctx, e.ID, mode)
	case entity.TypeWorkbook:
		pend, err = h.scope.DeleteWorkbook(ctx, e.ID, mode)
	case entity.TypeBlock:
		blockPend, orderPend, berr := h.scope.DeleteBlock(ctx, e.Workbook, e.ID, mode)
		if berr != nil {
			return berr
		}
		h.wait(ctx, blockPend, e.Type, e.ID, mode, OpDelete)
		h.wait(ctx, orderPend, string(entity.TypeWorkbook), e.Workbook, mode, OpUpdate)
		return nil
	}
	if err != nil {
		return err
	}
	h.wait(ctx, pend, e.Type, e.ID, mode, OpDelete)
	return nil
}

func (h *Harness) applyRemote(ctx context.Context, r *RemoteStep) error {
	scopeID := h.scope.ID
	switch r.Op {
	case OpCreate:
		env, err := h.remote.Create(ctx, scopeID, entity.Type(r.Type), r.Payload)
		if err != nil {
			return fmt.Errorf("remote create: %w", err)
		}
		h.result.AddEvent(TraceEvent{Event: "remote", Op: r.Op, Entity: r.Type, ID: env.ID, Version: env.Version})
	case OpUpdate:
		env, err := h.remote.Update(ctx, scopeID, entity.Type(r.Type), r.ID, r.Payload)
		if err != nil {
			return fmt.Errorf("remote update: %w", err)
		}
		h.result.AddEvent(TraceEvent{Event: "remote", Op: r.Op, Entity: r.Type, ID: env.ID, Version: env.Version})
	case OpDelete:
		if err := h.remote.Delete(ctx, scopeID, entity.Type(r.Type), r.ID); err != nil {
			return fmt.Errorf("remote delete: %w", err)
		}
		h.result.AddEvent(TraceEvent{Event: "remote", Op: r.Op, Entity: r.Type, ID: r.ID})
	}
	return nil
}

func (h *Harness) applyPoll(ctx context.Context) {
	if err := h.scope.Poll(ctx); err != nil {
		h.result.AddEvent(TraceEvent{Event: "poll_error", Error: errorCode(err)})
		return
	}
	h.result.AddEvent(TraceEvent{Event: "poll", Cursor: string(h.scope.Cursor())})
}

func (h *Harness) traceEdit(e *EditStep, id string, mode mutate.Mode) {
	h.result.AddEvent(TraceEvent{Event: "edit", Op: e.Op, Entity: e.Type, ID: id, Mode: string(mode)})
}

// wait blocks on a sync mutation's remote leg and records its outcome.
// Local-only edits have no remote leg and produce no event.
func (h *Harness) wait(ctx context.Context, pend *mutate.Pending, typ, id string, mode mutate.Mode, op string) {
	if pend == nil || mode == mutate.LocalOnly {
		return
	}
	env, err := pend.Wait(ctx)
	if err != nil {
		h.result.AddEvent(TraceEvent{Event: "sync_error", Op: op, Entity: typ, ID: id, Error: errorCode(err)})
		return
	}
	if op == OpDelete {
		h.result.AddEvent(TraceEvent{Event: "confirm", Op: op, Entity: typ, ID: id})
		return
	}
	h.result.AddEvent(TraceEvent{Event: "confirm", Op: op, Entity: typ, ID: env.ID, Version: env.Version})
}

// errorCode renders a failure as its taxonomy code when it carries one,
// keeping traces stable across message wording changes.
func errorCode(err error) string {
	var re *remote.Error
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return err.Error()
}
