// Package harness runs register lifecycle scenarios written in YAML.
//
// A scenario is a list of operations (create, update, transfer, consume,
// the lock and freeze pairs, delete, advance_epoch) applied in order to a
// fresh lifecycle manager backed by an in-memory SQLite store. Each step
// may carry an expectation; the trace of outcomes is compared against a
// golden file and checked by assertions:
//
//	name: register_create_update_consume
//	description: Create, update, consume, then replay the consume.
//	steps:
//	  - op: create
//	    register: r
//	    owner: "0xAAA"
//	    domain: D1
//	    contents: hello
//	    expect: {state: active, epoch: 1, history: 1}
//	  - op: consume
//	    register: r
//	    initiator: "0xAAA"
//	    tx_id: tx-1
//	    expect: {state: consumed}
//	assertions:
//	  - type: nullifiers
//	    register: r
//	    tx_ids: [tx-1]
//
// Principals sign with deterministic keys from testutil.KeyFor, and the
// manual clock advances one StepInterval before every step, so the trace
// is reproducible byte for byte.
package harness
