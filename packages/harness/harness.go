// Package harness ties a file's test tree to the outside world: it owns the
// invisible root test, the TAP stream on stdout, the fault router
// installation, and the process exit code.
package harness

import (
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/tapworks/tapestry/packages/core/engine"
	"github.com/tapworks/tapestry/packages/fault"
	"github.com/tapworks/tapestry/packages/tap"
)

// Harness is one file's root. Top-level tests attach to it; Wait drains them,
// flushes the TAP document, and yields the exit code.
type Harness struct {
	sched   *engine.Scheduler
	emitter *tap.Emitter
	router  *fault.Router
	restore func()
	runID   string

	mu       sync.Mutex
	finished bool
	exitCode int
}

// Option configures a Harness.
type Option func(*settings)

type settings struct {
	writer      io.Writer
	concurrency int
}

// WithWriter redirects the TAP stream; the default is stdout.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.writer = w }
}

// WithConcurrency sets the root's concurrency for top-level tests; the
// default is 1.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// New builds a harness and installs its fault router as the process default.
func New(opts ...Option) *Harness {
	cfg := settings{writer: os.Stdout, concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Harness{
		emitter: tap.NewEmitter(cfg.writer),
		runID:   uuid.NewString(),
	}

	var root *engine.Node
	h.router = fault.NewRouter(func(err error) {
		root.AttachDiagnostic("uncaught fault: " + err.Error())
	})
	h.sched = engine.New(&engine.Options{Concurrency: cfg.concurrency}, h.router, h.onReport)
	root = h.sched.Root()
	h.restore = fault.Install(h.router)
	return h
}

// RunID identifies this harness instance, e.g. for history correlation.
func (h *Harness) RunID() string { return h.runID }

// Router exposes the harness's fault router, for code that reports faults
// without a T in hand.
func (h *Harness) Router() *fault.Router { return h.router }

// Test creates a top-level test under the file root. The returned handle
// settles once the test is reported; it never carries an error.
func (h *Harness) Test(name string, opts *engine.Options, fn engine.Func) *engine.Handle {
	return h.sched.Spawn(h.sched.Root(), name, opts, fn)
}

// Wait drains every top-level test, late arrivals included, flushes the TAP
// document, restores the previously installed fault handlers, and returns
// the process exit code: 0 when the root's aggregate verdict is a pass, 1
// otherwise. Safe to call more than once; later calls return the same code.
func (h *Harness) Wait() int {
	h.mu.Lock()
	if h.finished {
		code := h.exitCode
		h.mu.Unlock()
		return code
	}
	h.mu.Unlock()

	root := h.sched.WaitRoot()
	h.emitter.Close(root.Diagnostics())
	h.restore()

	code := 0
	if root.Verdict().Kind == engine.VerdictFail {
		code = 1
	}

	h.mu.Lock()
	h.finished = true
	h.exitCode = code
	h.mu.Unlock()
	return code
}

// onReport streams each completed top-level subtree to the emitter. Deeper
// nodes are rendered as part of their top-level ancestor; the root itself is
// handled by Wait.
func (h *Harness) onReport(n *engine.Node) {
	if n.Depth() != 1 {
		return
	}
	h.emitter.Emit(n.Ordinal(), toResult(n))
}

// toResult converts a reported subtree into its TAP form.
func toResult(n *engine.Node) *tap.Result {
	v := n.Verdict()
	todo, todoReason := n.Todo()

	r := &tap.Result{
		Name:        n.Name(),
		Diagnostics: n.Diagnostics(),
		Duration:    n.Duration(),
	}

	switch v.Kind {
	case engine.VerdictPass:
		r.Ok = true
	case engine.VerdictSkip:
		r.Ok = true
		r.Directive = tap.DirectiveSkip
		r.Reason = v.Reason
	case engine.VerdictTodo:
		r.Ok = true
		r.Directive = tap.DirectiveTodo
		r.Reason = v.Reason
	case engine.VerdictFail:
		r.Failure = v.Reason
		if todo {
			r.Directive = tap.DirectiveTodo
			r.Reason = todoReason
		}
	}

	for _, child := range n.Children() {
		r.Children = append(r.Children, toResult(child))
	}
	return r
}

var (
	defaultMu      sync.Mutex
	defaultHarness *Harness
)

// Default returns the process-wide harness, creating it on first use.
func Default() *Harness {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHarness == nil {
		defaultHarness = New()
	}
	return defaultHarness
}

// Test creates a top-level test on the default harness.
func Test(name string, opts *engine.Options, fn engine.Func) *engine.Handle {
	return Default().Test(name, opts, fn)
}

// Wait drains the default harness and returns its exit code.
func Wait() int {
	return Default().Wait()
}

// Exit drains the default harness and exits the process with its code.
func Exit() {
	os.Exit(Wait())
}
