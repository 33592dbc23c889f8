package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies one of the fixed entity kinds the engine replicates.
type Type string

const (
	TypeTable    Type = "table"
	TypeColumn   Type = "column"
	TypeRecord   Type = "record"
	TypeCell     Type = "cell"
	TypeWorkbook Type = "workbook"
	TypeBlock    Type = "block"
)

// ValidTypes defines the allowed entity types.
var ValidTypes = map[Type]bool{
	TypeTable:    true,
	TypeColumn:   true,
	TypeRecord:   true,
	TypeCell:     true,
	TypeWorkbook: true,
	TypeBlock:    true,
}

// ComputeStatus tracks the lifecycle of a cell's derived value.
type ComputeStatus string

const (
	ComputeIdle      ComputeStatus = "idle"
	ComputeComputing ComputeStatus = "computing"
	ComputeComputed  ComputeStatus = "computed"
	ComputeError     ComputeStatus = "error"
)

// Meta holds the attributes common to every replicated entity.
//
// Version is assigned by the remote store on every accepted write and
// increases monotonically per entity. Locally created entities start at
// version 0 until the remote confirms them; delta merges compare versions
// with >= so the remote echo of a just-confirmed write still lands.
type Meta struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordID returns the entity's opaque unique id.
func (m Meta) RecordID() string { return m.ID }

// RecordVersion returns the server-assigned version.
func (m Meta) RecordVersion() int64 { return m.Version }

// Table is a spreadsheet-like surface owning columns, records, and cells.
type Table struct {
	Meta
	Name string `json:"name"`
}

// Column belongs to a table and occupies an integer position in its
// column order. Positions need not be contiguous; unknown positions
// sort last (see the order package).
type Column struct {
	Meta
	TableID  string `json:"table_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"` // "text", "number", ...
	Position int    `json:"position"`
}

// Record is one row of a table.
type Record struct {
	Meta
	TableID  string `json:"table_id"`
	Position int    `json:"position"`
}

// Cell is the value at (record, column). ComputeError is set only when
// ComputeStatus is ComputeError.
type Cell struct {
	Meta
	TableID       string        `json:"table_id"`
	RecordRef     string        `json:"record_id"`
	ColumnRef     string        `json:"column_id"`
	Value         any           `json:"value,omitempty"`
	ComputeStatus ComputeStatus `json:"compute_status"`
	ComputeError  string        `json:"compute_error,omitempty"`
}

// Workbook is a document surface composed of ordered blocks. BlockOrder
// maps block id to rank and is persisted on the workbook itself, as a
// single value, so a reorder is one atomic update.
type Workbook struct {
	Meta
	Name       string         `json:"name"`
	BlockOrder map[string]int `json:"block_order,omitempty"`
}

// Block is one unit of workbook content (a paragraph, an embedded table
// reference, ...).
type Block struct {
	Meta
	WorkbookID string `json:"workbook_id"`
	Kind       string `json:"kind"`
	Content    string `json:"content,omitempty"`
	TableID    string `json:"table_id,omitempty"` // set when Kind is "table"
}

// New unmarshals a raw payload into the concrete entity value for typ.
// Returns an error for unknown types or malformed payloads.
func New(typ Type, payload []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch typ {
	case TypeTable:
		var e Table
		err = json.Unmarshal(payload, &e)
		v = e
	case TypeColumn:
		var e Column
		err = json.Unmarshal(payload, &e)
		v = e
	case TypeRecord:
		var e Record
		err = json.Unmarshal(payload, &e)
		v = e
	case TypeCell:
		var e Cell
		err = json.Unmarshal(payload, &e)
		v = e
	case TypeWorkbook:
		var e Workbook
		err = json.Unmarshal(payload, &e)
		v = e
	case TypeBlock:
		var e Block
		err = json.Unmarshal(payload, &e)
		v = e
	default:
		return nil, fmt.Errorf("unknown entity type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return v, nil
}
