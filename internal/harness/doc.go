// Package harness runs YAML scenarios against the sync engine.
//
// A scenario fixes the calendar day, seeds the local log, the extras
// overlay, the points ledger and (when authenticated) an in-memory remote
// tracker, then executes a flow of operations through the real engine and
// tracker. Each step lands in a trace together with its outcome; expect
// clauses check single steps and assertions check the trace and the final
// state.
//
// Example:
//
//	name: auth_duplicate_becomes_extra
//	description: a remote duplicate is kept as an extras entry
//	mode: authenticated
//	today: "2024-02-05"
//	flow:
//	  - op: mark_done
//	    args: {item: med}
//	  - op: mark_done
//	    args: {item: med}
//	    expect:
//	      case: ok
//	      result: {extra: true, points: 50}
//	assertions:
//	  - type: final_state
//	    target: remote
//	    where: {day: "2024-02-05", item: med}
//	    count: 1
//
// Remote faults are injected with the fault op:
//
//	- op: fault
//	  args: {target: fetch, error: network}
//
// Traces are compared against golden files in testdata/golden with
// RunWithGolden.
package harness
