package engine

// Handle tracks a test to its report. It settles with no value once the test
// reaches Reported; failures are surfaced via TAP output, never through the
// handle.
type Handle struct {
	node *Node
}

// Done is closed when the test has been reported.
func (h *Handle) Done() <-chan struct{} {
	return h.node.done
}

// Wait blocks until the test has been reported.
func (h *Handle) Wait() {
	<-h.node.done
}

// Node returns the underlying test node; its snapshot accessors are safe to
// use once the handle has settled.
func (h *Handle) Node() *Node {
	return h.node
}
