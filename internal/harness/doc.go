// Package harness runs scripted customer histories against a fully wired
// engine and checks the resulting event log.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	start: 2024-01-01T00:00:00Z   # optional clock origin
//	tick: 1m                      # optional clock advance per event
//	snapshot_threshold: 2         # optional event-count snapshot trigger
//	steps:
//	  - op: create
//	    entity: c1
//	    fields: { name: Ada, email: ada@example.com }
//	  - op: transaction
//	    fail: true
//	    steps:
//	      - op: update
//	        entity: c1
//	        fields: { tier: gold }
//	  - op: replay
//	    replay: { mode: sandbox, until_event: 2 }
//	assertions:
//	  - type: event_count
//	    count: 3
//	  - type: entity_state
//	    entity: c1
//	    expect: { tier: "" }
//
// # Determinism
//
// Every scenario runs in a fresh in-memory database with sequential event
// ids and a manual clock, and entity aliases double as entity ids. The
// golden log replaces transaction ids with their order of appearance, so
// identical scenarios always produce byte-identical output.
package harness
