// Package engine drives the test tree: it owns the per-test state machine
// (Pending → Running → Settling → Reported), classifies how a test body
// completed, bounds sibling parallelism, and enforces the parent/child
// sequencing rules.
//
// A parent's lifetime is decided by its own body alone. When the body
// returns, children still in flight are cancelled cooperatively and reported
// before the parent; children created afterwards are failed as late arrivals
// and rerouted to the file root. Callers who want to wait for subtests await
// the Handle returned by T.Run.
package engine
