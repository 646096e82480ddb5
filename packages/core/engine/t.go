package engine

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// T is the context handle passed to a test body. It is the only mutation
// surface user code gets: diagnostics, skip/todo marks, subtest creation,
// and router-protected goroutines.
type T struct {
	node  *Node
	sched *Scheduler
}

// Name returns the test's name.
func (t *T) Name() string { return t.node.name }

// Diagnostic appends a message to this test's TAP diagnostics. It never
// fails; a message arriving after the test was reported is rerouted to the
// file root.
func (t *T) Diagnostic(msg string) {
	t.node.appendDiagnostic(msg)
}

// Diagnosticf is Diagnostic with formatting.
func (t *T) Diagnosticf(format string, args ...any) {
	t.node.appendDiagnostic(fmt.Sprintf(format, args...))
}

// Skip marks the test skipped. The body is not interrupted; it keeps running
// and its outcome is ignored. When called more than once the first non-empty
// reason is kept. After a failure verdict is already set, Skip only leaves a
// diagnostic.
func (t *T) Skip(reason string) {
	n := t.node
	n.mu.Lock()
	switch {
	case n.reported:
		n.mu.Unlock()
		n.orphanDiagnostic("skip requested after report: " + reason)
		return
	case !n.hasVerdict:
		n.hasVerdict = true
		n.verdict = Verdict{Kind: VerdictSkip, Reason: reason}
	case n.verdict.Kind == VerdictSkip && n.verdict.Reason == "" && reason != "":
		n.verdict.Reason = reason
	default:
		n.diagnostics = append(n.diagnostics, "skip requested after verdict was set: "+reason)
	}
	n.mu.Unlock()
}

// Todo marks the test as expected-to-fail: the body still runs, and a later
// failure is annotated in TAP but does not fail the parent. The first
// non-empty reason is kept. After a verdict is already set, Todo only leaves
// a diagnostic.
func (t *T) Todo(reason string) {
	n := t.node
	n.mu.Lock()
	switch {
	case n.reported:
		n.mu.Unlock()
		n.orphanDiagnostic("todo requested after report: " + reason)
		return
	case n.hasVerdict:
		n.diagnostics = append(n.diagnostics, "todo requested after verdict was set: "+reason)
	case !n.todo:
		n.todo = true
		n.todoReason = reason
	case n.todoReason == "" && reason != "":
		n.todoReason = reason
	}
	n.mu.Unlock()
}

// Run creates a subtest. The returned handle settles when the subtest is
// reported and never carries an error; failures surface in TAP output only.
// The parent does not wait for the subtest unless the caller awaits the
// handle.
func (t *T) Run(name string, opts *Options, fn Func) *Handle {
	return t.sched.Spawn(t.node, name, opts, fn)
}

// Go runs fn on a goroutine under the fault router: a panic there becomes a
// routed fault instead of crashing the process, even if it fires after this
// test has been reported.
func (t *T) Go(fn func()) {
	t.sched.router.Go(fn)
}

// funcName derives a display name from the body's declared name, the
// fallback when a test is created without one.
func funcName(fn Func) string {
	if fn == nil {
		return "<anonymous>"
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return "<anonymous>"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "<anonymous>"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
