package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridstone/tidewater/internal/entity"
)

// Scenario defines a conformance scenario: a scripted interleaving of
// local edits, remote-side writes, and poll ticks against one scope,
// with assertions on the final replica state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scope is the scope id the scenario runs against.
	Scope string `yaml:"scope"`

	// Seed contains entities written to the remote store before the
	// client opens the scope. Hydration picks them up.
	Seed []SeedEntry `yaml:"seed,omitempty"`

	// Steps is the scripted interleaving. Each step is exactly one of
	// edit, remote, poll, or fail.
	Steps []Step `yaml:"steps"`

	// Assertions validate the replica after all steps have run.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedEntry is one entity pre-created on the remote store.
type SeedEntry struct {
	// Type is the entity type ("table", "column", ...).
	Type string `yaml:"type"`

	// Payload is the entity document. Must carry an "id" field.
	Payload map[string]interface{} `yaml:"payload"`
}

// Step is a tagged union: exactly one field is set.
type Step struct {
	// Edit is a local mutation through the scope's pipeline.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Remote is a write performed directly against the remote store,
	// simulating another client. The replica learns about it on the
	// next poll.
	Remote *RemoteStep `yaml:"remote,omitempty"`

	// Poll runs one delta poll tick.
	Poll *PollStep `yaml:"poll,omitempty"`

	// Fail toggles remote failure injection.
	Fail *FailStep `yaml:"fail,omitempty"`
}

// EditStep is one local mutation.
type EditStep struct {
	// Op is the mutation kind: "create", "update", "delete",
	// "insert_column", "move_block".
	Op string `yaml:"op"`

	// Type is the entity type. Required for create, update, delete.
	Type string `yaml:"type,omitempty"`

	// ID targets an existing entity (update, delete, move_block).
	ID string `yaml:"id,omitempty"`

	// Mode is "local_only" or "sync". Defaults to "sync".
	Mode string `yaml:"mode,omitempty"`

	// Payload is the full document for create and insert_column.
	Payload map[string]interface{} `yaml:"payload,omitempty"`

	// Set holds the fields an update overlays onto the current value.
	Set map[string]interface{} `yaml:"set,omitempty"`

	// Position is the target rank for insert_column, move_block, and
	// block creation.
	Position *int `yaml:"position,omitempty"`

	// Workbook is the owning workbook id for move_block and block deletes.
	Workbook string `yaml:"workbook,omitempty"`
}

// RemoteStep is one write performed by a simulated second client.
type RemoteStep struct {
	// Op is "create", "update", or "delete".
	Op string `yaml:"op"`

	// Type is the entity type.
	Type string `yaml:"type"`

	// ID targets an existing entity (update, delete).
	ID string `yaml:"id,omitempty"`

	// Payload is the document for create and update.
	Payload map[string]interface{} `yaml:"payload,omitempty"`
}

// PollStep runs one delta poll tick. It has no fields; the empty map
// form `poll: {}` is the YAML spelling.
type PollStep struct{}

// FailStep toggles failure injection on the remote store. `network: true`
// makes every subsequent remote call fail until a `fail: {}` step clears it.
type FailStep struct {
	Network bool `yaml:"network"`
}

// Assertion validates replica state after the steps have run.
type Assertion struct {
	// Type is the assertion kind: "entity", "absent", "count", "order",
	// "cursor", "trace_count".
	Type string `yaml:"type"`

	// Entity is the entity type (entity, absent, count, order).
	Entity string `yaml:"entity,omitempty"`

	// ID targets one entity (entity, absent).
	ID string `yaml:"id,omitempty"`

	// Expect holds expected field values, subset-matched (entity).
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected store size (count) or trace event count
	// (trace_count).
	Count int `yaml:"count,omitempty"`

	// IDs is the expected presentation order (order).
	IDs []string `yaml:"ids,omitempty"`

	// Workbook scopes an order assertion over blocks.
	Workbook string `yaml:"workbook,omitempty"`

	// Cursor is the expected sync cursor (cursor).
	Cursor string `yaml:"cursor,omitempty"`

	// Event is the trace event name (trace_count).
	Event string `yaml:"event,omitempty"`
}

// Assertion type constants.
const (
	AssertEntity     = "entity"
	AssertAbsent     = "absent"
	AssertCount      = "count"
	AssertOrder      = "order"
	AssertCursor     = "cursor"
	AssertTraceCount = "trace_count"
)

// Edit op constants.
const (
	OpCreate       = "create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpInsertColumn = "insert_column"
	OpMoveBlock    = "move_block"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails loudly instead of silently skipping a step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, entry := range s.Seed {
		if err := validateEntityType(entry.Type); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if entry.Payload == nil {
			return fmt.Errorf("seed[%d]: payload is required", i)
		}
		if id, _ := entry.Payload["id"].(string); id == "" {
			return fmt.Errorf("seed[%d]: payload must carry a string id", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(&a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	set := 0
	if step.Edit != nil {
		set++
	}
	if step.Remote != nil {
		set++
	}
	if step.Poll != nil {
		set++
	}
	if step.Fail != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of edit, remote, poll, fail must be set (got %d)", set)
	}

	if e := step.Edit; e != nil {
		switch e.Op {
		case OpCreate, OpUpdate, OpDelete:
			if err := validateEntityType(e.Type); err != nil {
				return err
			}
		case OpInsertColumn:
			if e.Position == nil {
				return fmt.Errorf("insert_column: position is required")
			}
			if e.Payload == nil {
				return fmt.Errorf("insert_column: payload is required")
			}
		case OpMoveBlock:
			if e.ID == "" || e.Workbook == "" || e.Position == nil {
				return fmt.Errorf("move_block: id, workbook, and position are required")
			}
		default:
			return fmt.Errorf("unknown edit op %q", e.Op)
		}
		switch e.Mode {
		case "", "local_only", "sync":
		default:
			return fmt.Errorf("unknown mode %q", e.Mode)
		}
		if e.Op == OpCreate && e.Payload == nil {
			return fmt.Errorf("create: payload is required")
		}
		if e.Op == OpUpdate && (e.ID == "" || e.Set == nil) {
			return fmt.Errorf("update: id and set are required")
		}
		if e.Op == OpDelete && e.ID == "" {
			return fmt.Errorf("delete: id is required")
		}
		if e.Op == OpDelete && e.Type == string(entity.TypeBlock) && e.Workbook == "" {
			return fmt.Errorf("delete block: workbook is required")
		}
	}

	if r := step.Remote; r != nil {
		switch r.Op {
		case OpCreate, OpUpdate, OpDelete:
		default:
			return fmt.Errorf("unknown remote op %q", r.Op)
		}
		if err := validateEntityType(r.Type); err != nil {
			return err
		}
		if r.Op != OpCreate && r.ID == "" {
			return fmt.Errorf("remote %s: id is required", r.Op)
		}
		if r.Op != OpDelete && r.Payload == nil {
			return fmt.Errorf("remote %s: payload is required", r.Op)
		}
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertEntity:
		if a.Entity == "" || a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("entity: entity, id, and expect are required")
		}
		return validateEntityType(a.Entity)
	case AssertAbsent:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("absent: entity and id are required")
		}
		return validateEntityType(a.Entity)
	case AssertCount:
		if a.Entity == "" || a.Count < 0 {
			return fmt.Errorf("count: entity and a non-negative count are required")
		}
		return validateEntityType(a.Entity)
	case AssertOrder:
		if a.Entity == "" || len(a.IDs) == 0 {
			return fmt.Errorf("order: entity and ids are required")
		}
		if a.Entity == string(entity.TypeBlock) && a.Workbook == "" {
			return fmt.Errorf("order over blocks: workbook is required")
		}
		return validateEntityType(a.Entity)
	case AssertCursor:
		if a.Cursor == "" {
			return fmt.Errorf("cursor: value is required")
		}
	case AssertTraceCount:
		if a.Event == "" || a.Count < 0 {
			return fmt.Errorf("trace_count: event and a non-negative count are required")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func validateEntityType(typ string) error {
	if !entity.ValidTypes[entity.Type(typ)] {
		return fmt.Errorf("unknown entity type %q", typ)
	}
	return nil
}
