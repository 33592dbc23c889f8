package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: minimal
description: a minimal valid scenario
scope: ws-1
steps:
  - poll: {}
assertions:
  - type: count
    entity: column
    count: 0
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "ws-1", s.Scope)
	require.Len(t, s.Steps, 1)
	assert.NotNil(t, s.Steps[0].Poll)
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: has a misspelled key
scope: ws-1
steps:
  - poll: {}
assertion:
  - type: count
    entity: column
    count: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestParseScenario_RequiredFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\nscope: s\nsteps: [{poll: {}}]\nassertions: [{type: cursor, cursor: \"0\"}]", "name is required"},
		{"no description", "name: n\nscope: s\nsteps: [{poll: {}}]\nassertions: [{type: cursor, cursor: \"0\"}]", "description is required"},
		{"no scope", "name: n\ndescription: d\nsteps: [{poll: {}}]\nassertions: [{type: cursor, cursor: \"0\"}]", "scope is required"},
		{"no steps", "name: n\ndescription: d\nscope: s\nassertions: [{type: cursor, cursor: \"0\"}]", "steps list is required"},
		{"no assertions", "name: n\ndescription: d\nscope: s\nsteps: [{poll: {}}]", "assertions list is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseScenario_StepMustBeExactlyOneKind(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: n
description: d
scope: s
steps:
  - poll: {}
    remote: { op: delete, type: column, id: c1 }
assertions:
  - type: cursor
    cursor: "0"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of")
}

func TestParseScenario_EditValidation(t *testing.T) {
	cases := []struct {
		name string
		edit string
		want string
	}{
		{"unknown op", `{op: rename, type: column, id: c1}`, "unknown edit op"},
		{"unknown type", `{op: create, type: gadget, payload: {id: g1}}`, "unknown entity type"},
		{"unknown mode", `{op: delete, type: column, id: c1, mode: async}`, "unknown mode"},
		{"create without payload", `{op: create, type: column}`, "payload is required"},
		{"update without set", `{op: update, type: column, id: c1}`, "id and set are required"},
		{"delete without id", `{op: delete, type: column}`, "id is required"},
		{"delete block without workbook", `{op: delete, type: block, id: b1}`, "workbook is required"},
		{"move_block incomplete", `{op: move_block, id: b1}`, "id, workbook, and position are required"},
		{"insert_column without position", `{op: insert_column, payload: {id: x}}`, "position is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(`
name: n
description: d
scope: s
steps:
  - edit: ` + tc.edit + `
assertions:
  - type: cursor
    cursor: "0"
`))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseScenario_AssertionValidation(t *testing.T) {
	cases := []struct {
		name      string
		assertion string
		want      string
	}{
		{"unknown type", `{type: snapshot}`, "unknown assertion type"},
		{"entity incomplete", `{type: entity, entity: column}`, "entity, id, and expect are required"},
		{"order on unordered entity ok at parse", `{type: order, entity: cell, ids: [a]}`, ""},
		{"order over blocks without workbook", `{type: order, entity: block, ids: [b1]}`, "workbook is required"},
		{"cursor without value", `{type: cursor}`, "value is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(`
name: n
description: d
scope: s
steps:
  - poll: {}
assertions:
  - ` + tc.assertion + `
`))
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseScenario_SeedValidation(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: n
description: d
scope: s
seed:
  - type: column
    payload: { name: NoID }
steps:
  - poll: {}
assertions:
  - type: cursor
    cursor: "0"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload must carry a string id")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does_not_exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}
