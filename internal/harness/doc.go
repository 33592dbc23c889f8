// Package harness runs YAML conformance scenarios against the sync
// engine: scripted interleavings of local edits, remote-side writes, and
// poll ticks, with assertions on the resulting replica state and a
// deterministic trace compared against golden files.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	scope: ws-1
//	seed:
//	  - type: column
//	    payload: { id: c1, table_id: t1, name: Name, position: 0 }
//	steps:
//	  - edit:
//	      op: create
//	      type: column
//	      mode: sync
//	      payload: { id: c2, table_id: t1, name: Status, position: 1 }
//	  - remote:
//	      op: update
//	      type: column
//	      id: c1
//	      payload: { id: c1, table_id: t1, name: Renamed, position: 0 }
//	  - poll: {}
//	assertions:
//	  - type: entity
//	    entity: column
//	    id: c1
//	    expect: { name: Renamed, version: 2 }
//	  - type: order
//	    entity: column
//	    ids: [c1, c2]
//
// Each scenario runs against a fresh in-memory remote store with a
// deterministic clock and a manually polled scope, so repeated runs
// produce byte-identical traces. Remote steps simulate a second client
// writing to the shared store; the replica only learns about them on the
// next poll step, which is exactly the propagation model under test.
//
// Failure injection (`fail: {network: true}`) makes every remote call
// fail until cleared with `fail: {}`, exercising the no-rollback
// optimistic path and poll retry behavior.
package harness
