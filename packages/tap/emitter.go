package tap

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Emitter streams a single TAP version 13 document. Top-level subtrees are
// handed to Emit as they complete; the emitter holds out-of-order arrivals
// and writes each sibling group in ordinal order. All writes are synchronous,
// serialized by the emitter's own lock since subtrees complete on concurrent
// goroutines.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	started bool
	next    int // next top-level ordinal to write, 1-based
	pending map[int]*Result
	written int
}

// NewEmitter returns an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:       w,
		next:    1,
		pending: make(map[int]*Result),
	}
}

// Emit hands a completed top-level subtree to the emitter. The result is
// written immediately if ordinal is the next in line, otherwise buffered
// until its earlier siblings have arrived.
func (e *Emitter) Emit(ordinal int, r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[ordinal] = r
	for {
		next, ok := e.pending[e.next]
		if !ok {
			return
		}
		delete(e.pending, e.next)
		e.writeBlock(next, e.next, 0)
		e.next++
		e.written++
	}
}

// Close writes any trailing root-level diagnostics followed by the final
// plan line. It must be called exactly once, after the last Emit.
func (e *Emitter) Close(diagnostics []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.header()
	for _, d := range diagnostics {
		e.comment(d, 0)
	}
	fmt.Fprintf(e.w, "1..%d\n", e.written)
}

func (e *Emitter) header() {
	if e.started {
		return
	}
	e.started = true
	fmt.Fprintln(e.w, "TAP version 13")
}

// writeBlock renders the subtree rooted at r: the children's blocks and the
// scope plan one level deeper, then r's own result line and diagnostics.
func (e *Emitter) writeBlock(r *Result, ordinal, depth int) {
	e.header()

	for i, child := range r.Children {
		e.writeBlock(child, i+1, depth+1)
	}
	if len(r.Children) > 0 {
		fmt.Fprintf(e.w, "%s1..%d\n", indent(depth+1), len(r.Children))
	}

	e.resultLine(r, ordinal, depth)

	for _, d := range r.Diagnostics {
		e.comment(d, depth)
	}
	if r.Failure != "" {
		e.failureBlock(r.Failure, depth)
	}
}

func (e *Emitter) resultLine(r *Result, ordinal, depth int) {
	status := "ok"
	if !r.Ok {
		status = "not ok"
	}

	name := sanitizeName(r.Name)
	line := fmt.Sprintf("%s%s %d - %s", indent(depth), status, ordinal, name)

	switch r.Directive {
	case DirectiveSkip:
		line += " # SKIP"
		if r.Reason != "" {
			line += " " + r.Reason
		}
	case DirectiveTodo:
		line += " # TODO"
		if r.Reason != "" {
			line += " " + r.Reason
		}
	}

	fmt.Fprintln(e.w, line)
}

func (e *Emitter) comment(msg string, depth int) {
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintf(e.w, "%s# %s\n", indent(depth), line)
	}
}

// failureDetail is the YAML block attached to a failing result line.
type failureDetail struct {
	Message  string `yaml:"message"`
	Severity string `yaml:"severity"`
}

func (e *Emitter) failureBlock(message string, depth int) {
	pad := indent(depth + 1)
	body, err := yaml.Marshal(failureDetail{Message: message, Severity: "fail"})
	if err != nil {
		// yaml.Marshal of a plain string struct does not fail; keep the
		// stream well-formed anyway.
		body = []byte("message: <unrenderable>\nseverity: fail\n")
	}

	fmt.Fprintf(e.w, "%s---\n", pad)
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		fmt.Fprintf(e.w, "%s%s\n", pad, line)
	}
	fmt.Fprintf(e.w, "%s...\n", pad)
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}
