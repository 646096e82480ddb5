package harness

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapworks/tapestry/packages/core/engine"
	"github.com/tapworks/tapestry/packages/fault"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestSynchronousPassOutput(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) {})
	code := h.Wait()

	assert.Equal(t, 0, code)
	assert.Equal(t, "TAP version 13\nok 1 - a\n1..1\n", buf.String())
}

func TestSynchronousFailOutput(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) {
		panic(errors.New("x"))
	})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not ok 1 - a\n")
	assert.Contains(t, out, "x")
	assert.Contains(t, out, "severity: fail")
	assert.True(t, strings.HasSuffix(out, "1..1\n"))
}

func TestCallbackFailure(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T, done engine.Callback) {
		done(errors.New("e"))
	})
	code := h.Wait()

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "not ok 1 - a\n")
}

func TestEmptyRoot(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	code := h.Wait()

	assert.Equal(t, 0, code)
	assert.Equal(t, "TAP version 13\n1..0\n", buf.String())
}

func TestSkipAndTodoDirectives(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("s", &engine.Options{Skip: true, SkipReason: "not here"}, func(tt *engine.T) {})
	h.Test("t", &engine.Options{Todo: true, TodoReason: "later"}, func(tt *engine.T) error {
		return errors.New("known broken")
	})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 0, code, "skip and todo failures must not fail the file")
	assert.Contains(t, out, "ok 1 - s # SKIP not here\n")
	assert.Contains(t, out, "not ok 2 - t # TODO later\n")
}

func TestParentDoesNotWaitScenario(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))

	release := make(chan struct{})
	h.Test("p", nil, func(tt *engine.T) {
		tt.Run("c", nil, func(ct *engine.T) error {
			<-release
			return nil
		})
	})
	// let the child run to completion in the background after cancellation
	defer close(release)
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not ok 1 - c\n")
	assert.Contains(t, out, "parent finished before child")
	assert.Contains(t, out, "not ok 1 - p\n")

	// the child's line comes before the parent's
	childIdx := strings.Index(out, "not ok 1 - c")
	parentIdx := strings.Index(out, "not ok 1 - p")
	assert.Less(t, childIdx, parentIdx)
}

func TestLateSubtestScenario(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))

	var saved *engine.T
	handle := h.Test("p", nil, func(tt *engine.T) {
		saved = tt
	})
	handle.Wait()

	saved.Run("late", nil, func(*engine.T) {})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ok 1 - p\n")
	assert.Contains(t, out, "not ok 2 - late\n")
	assert.Contains(t, out, "created too late")
}

func TestSiblingOrderingUnderConcurrency(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf), WithConcurrency(3))

	releaseA := make(chan struct{})
	ha := h.Test("a", nil, func(tt *engine.T) {
		<-releaseA
	})
	hb := h.Test("b", nil, func(tt *engine.T) {})
	hb.Wait() // b finishes first
	close(releaseA)
	ha.Wait()
	h.Test("c", nil, func(tt *engine.T) {})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 0, code)
	aIdx := strings.Index(out, "ok 1 - a")
	bIdx := strings.Index(out, "ok 2 - b")
	cIdx := strings.Index(out, "ok 3 - c")
	require.True(t, aIdx >= 0 && bIdx >= 0 && cIdx >= 0, out)
	assert.Less(t, aIdx, bIdx)
	assert.Less(t, bIdx, cIdx)
}

func TestNestedScopesOutput(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("p", nil, func(tt *engine.T) error {
		c := tt.Run("c", nil, func(*engine.T) {})
		c.Wait()
		return nil
	})
	code := h.Wait()

	assert.Equal(t, 0, code)
	expected := strings.Join([]string{
		"TAP version 13",
		"  ok 1 - c",
		"  1..1",
		"ok 1 - p",
		"1..1",
		"",
	}, "\n")
	assert.Equal(t, expected, buf.String())
}

func TestDiagnosticsInOutput(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) {
		tt.Diagnostic("useful context")
	})
	h.Test("b", nil, func(tt *engine.T) {})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 0, code)
	aIdx := strings.Index(out, "ok 1 - a")
	diagIdx := strings.Index(out, "# useful context")
	bIdx := strings.Index(out, "ok 2 - b")
	require.True(t, aIdx >= 0 && diagIdx >= 0 && bIdx >= 0, out)
	assert.Less(t, aIdx, diagIdx)
	assert.Less(t, diagIdx, bIdx)
}

func TestUnattributableFaultLandsAtRoot(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) {}).Wait()

	// no test is running here, so the fault has no unique owner
	h.Router().Report(errors.New("stray failure"))
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 0, code, "root diagnostics do not flip verdicts")
	assert.Contains(t, out, "# uncaught fault: stray failure\n")
	assert.Contains(t, out, "ok 1 - a\n")
}

func TestFaultInRunningTestFailsIt(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) {
		fault.Report(errors.New("mid-test fault"))
	})
	code := h.Wait()

	out := buf.String()
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not ok 1 - a\n")
	assert.Contains(t, out, "# uncaught fault: mid-test fault\n")
}

func TestAsyncFaultAfterReportGoesToRoot(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))

	released := make(chan struct{})
	handle := h.Test("a", nil, func(tt *engine.T) {
		tt.Go(func() {
			<-released
			panic("late async boom")
		})
	})
	handle.Wait()
	close(released)

	// the routed fault lands on the root eventually; drain before closing
	assert.Eventually(t, func() bool {
		for _, d := range h.sched.Root().Diagnostics() {
			if strings.Contains(d, "late async boom") {
				return true
			}
		}
		return false
	}, waitFor, tick)

	code := h.Wait()
	out := buf.String()
	assert.Equal(t, 0, code, "a fault with no running owner does not fail reported tests")
	assert.Contains(t, out, "ok 1 - a\n")
	assert.Contains(t, out, "late async boom")
}

func TestWaitIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithWriter(&buf))
	h.Test("a", nil, func(tt *engine.T) { panic("x") })

	assert.Equal(t, 1, h.Wait())
	assert.Equal(t, 1, h.Wait())
	assert.Equal(t, 1, strings.Count(buf.String(), "1..1"))
}
