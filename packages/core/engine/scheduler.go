package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/tapworks/tapestry/packages/fault"
)

// Scheduler drives nodes through the state machine. All tree mutation goes
// through it; user code only touches the tree via T.
type Scheduler struct {
	root     *Node
	router   *fault.Router
	onReport func(*Node)
}

// New builds a scheduler with a fresh file root. onReport is called once per
// node as it reaches Reported, the root included; it may be nil.
func New(rootOpts *Options, router *fault.Router, onReport func(*Node)) *Scheduler {
	s := &Scheduler{
		root:     newNode(nil, "", 0, rootOpts, nil),
		router:   router,
		onReport: onReport,
	}
	return s
}

// Root returns the file root node.
func (s *Scheduler) Root() *Node { return s.root }

// Spawn creates a child of parent and schedules it. When the parent has
// already finished its body the child is a late arrival: it is failed
// outright, attached to the file root for reporting, and its body is never
// invoked.
func (s *Scheduler) Spawn(parent *Node, name string, opts *Options, fn Func) *Handle {
	if name == "" {
		name = funcName(fn)
	}

	parent.mu.Lock()
	if parent.finished {
		parent.mu.Unlock()
		return s.lateChild(name)
	}
	child := newNode(parent, name, len(parent.children)+1, opts, fn)
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	go s.runNode(child, opts)
	return &Handle{node: child}
}

// lateChild reports a too-late test creation against the file root.
func (s *Scheduler) lateChild(name string) *Handle {
	root := s.root
	root.mu.Lock()
	if root.reported {
		root.mu.Unlock()
		fmt.Fprintf(os.Stderr, "warning: test %q created after harness shutdown\n", name)
		n := &Node{name: name, done: make(chan struct{})}
		close(n.done)
		return &Handle{node: n}
	}
	child := newNode(root, name, len(root.children)+1, nil, nil)
	root.children = append(root.children, child)
	root.mu.Unlock()

	child.setVerdict(VerdictFail, "created too late")
	child.mu.Lock()
	child.finished = true
	child.mu.Unlock()
	s.reportNode(child)
	return &Handle{node: child}
}

// runNode is the child goroutine: acquire a slot under the parent, run the
// body, then settle.
func (s *Scheduler) runNode(n *Node, opts *Options) {
	parent := n.parent

	if opts.skipRequested() {
		// Acquire and immediately release a slot; the body is never
		// invoked.
		if err := parent.gate.Acquire(parent.childCtx); err == nil {
			parent.gate.Release()
		}
		n.setVerdict(VerdictSkip, opts.SkipReason)
		n.mu.Lock()
		n.finished = true
		n.mu.Unlock()
		s.reportNode(n)
		return
	}

	if err := parent.gate.Acquire(parent.childCtx); err != nil {
		// the parent finished before this child could start
		s.cancelNode(n)
		return
	}
	defer parent.gate.Release()

	// Push happens under the node lock so a concurrent cancellation either
	// sees the node unstarted (no Push, its Pop is a no-op) or pops an entry
	// that is already present.
	n.mu.Lock()
	if n.reported {
		n.mu.Unlock()
		return
	}
	n.state = StateRunning
	n.started = time.Now()
	s.router.Push(n)
	n.mu.Unlock()

	err := runBody(n, &T{node: n, sched: s})
	s.finishAndSettle(n, err)
}

// finishAndSettle flips the node's finished flag the instant its own body
// has completed, then resolves the children: those whose bodies have not
// finished are cancelled, the rest are awaited to their natural report, all
// in ordinal order.
func (s *Scheduler) finishAndSettle(n *Node, bodyErr error) {
	n.mu.Lock()
	if n.reported {
		// force-reported while the body was still running; its outcome is
		// ignored
		n.mu.Unlock()
		return
	}
	n.finished = true
	n.state = StateSettling
	n.mu.Unlock()

	s.router.Pop(n)
	n.childCancel()

	if bodyErr != nil {
		n.setVerdict(VerdictFail, bodyErr.Error())
	}

	for i := 0; ; i++ {
		n.mu.Lock()
		if i >= len(n.children) {
			n.mu.Unlock()
			break
		}
		child := n.children[i]
		n.mu.Unlock()

		child.mu.Lock()
		outstanding := !child.finished && !child.reported
		child.mu.Unlock()
		if outstanding {
			s.cancelNode(child)
		}
		<-child.done
	}

	s.reportNode(n)
}

// cancelNode force-reports a subtree whose parent finished first.
// Cancellation is cooperative: a body already running is left to complete in
// the background, its eventual outcome ignored.
func (s *Scheduler) cancelNode(n *Node) {
	n.mu.Lock()
	if n.reported {
		n.mu.Unlock()
		return
	}
	n.finished = true
	if !n.hasVerdict {
		n.hasVerdict = true
		n.verdict = Verdict{Kind: VerdictFail, Reason: "parent finished before child"}
	}
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	n.mu.Unlock()

	s.router.Pop(n)
	n.childCancel()
	for _, child := range children {
		s.cancelNode(child)
	}
	s.reportNode(n)
}

// reportNode computes the aggregate verdict if none is set and moves the
// node to Reported. Safe to call from both the node's own goroutine and a
// cancelling parent; the first caller wins.
func (s *Scheduler) reportNode(n *Node) {
	n.mu.Lock()
	if n.reported {
		n.mu.Unlock()
		return
	}

	if !n.hasVerdict {
		failed := 0
		for _, child := range n.children {
			if child.failsParent() {
				failed++
			}
		}
		switch {
		case failed == 1:
			n.verdict = Verdict{Kind: VerdictFail, Reason: "1 subtest failed"}
		case failed > 1:
			n.verdict = Verdict{Kind: VerdictFail, Reason: fmt.Sprintf("%d subtests failed", failed)}
		case n.todo:
			n.verdict = Verdict{Kind: VerdictTodo, Reason: n.todoReason}
		default:
			n.verdict = Verdict{Kind: VerdictPass}
		}
		n.hasVerdict = true
	}

	n.state = StateReported
	n.reported = true
	n.ended = time.Now()
	n.mu.Unlock()

	close(n.done)
	if s.onReport != nil {
		s.onReport(n)
	}
}

// WaitRoot drains the root's children — including late arrivals rerouted to
// the root while draining — then finishes and reports the root. The returned
// node carries the file's aggregate verdict.
func (s *Scheduler) WaitRoot() *Node {
	root := s.root
	for {
		root.mu.Lock()
		var pending *Node
		for _, child := range root.children {
			select {
			case <-child.done:
			default:
				pending = child
			}
			if pending != nil {
				break
			}
		}
		if pending == nil {
			root.finished = true
			root.state = StateSettling
			root.mu.Unlock()
			break
		}
		root.mu.Unlock()
		<-pending.done
	}

	root.childCancel()
	s.reportNode(root)
	return root
}
