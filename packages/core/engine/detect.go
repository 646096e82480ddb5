package engine

import (
	"errors"
	"fmt"
	"sync"
)

// Func is a user test body. Supported shapes:
//
//	nil                       no-op, passes
//	func(t *T)                passes on return, fails on panic
//	func(t *T) error          non-nil error fails the test
//	func(t *T, done Callback) settles at the first done(err) call
//
// A func(t *T, done Callback) error mixes the callback and value protocols
// and is failed outright; any other shape is failed as unsupported.
type Func = any

// Callback is the single-shot completion callback handed to callback-mode
// bodies. The first invocation settles the test: a non-nil err fails it.
// Later invocations are ignored apart from a diagnostic. An alias so bodies
// declared with a plain func(error) parameter are recognised too.
type Callback = func(err error)

var errMixedCompletion = errors.New("test uses a callback and also returns a value")

// runBody invokes the node's body and classifies its completion. The
// returned error is the body's failure, or nil for a pass. Blocks until the
// body settles or the node is force-reported from outside.
func runBody(n *Node, t *T) error {
	switch fn := n.fn.(type) {
	case nil:
		return nil

	case func(*T):
		return protect(func() error {
			fn(t)
			return nil
		})

	case func(*T) error:
		return protect(func() error {
			return fn(t)
		})

	case func(*T, Callback):
		settle := make(chan error, 1)
		var once sync.Once
		cb := func(err error) {
			delivered := false
			once.Do(func() {
				settle <- err
				delivered = true
			})
			if !delivered {
				n.appendDiagnostic("completion callback invoked more than once")
			}
		}
		if err := protect(func() error {
			fn(t, cb)
			return nil
		}); err != nil {
			return err
		}
		select {
		case err := <-settle:
			return err
		case <-n.done:
			// force-reported while waiting for the callback; the verdict
			// is already fixed, the outcome here is ignored
			return nil
		}

	case func(*T, Callback) error:
		_ = protect(func() error {
			fn(t, func(error) {})
			return nil
		})
		return errMixedCompletion

	default:
		return fmt.Errorf("unsupported test function signature %T", n.fn)
	}
}

// protect runs fn, converting a panic into a failure.
func protect(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn()
}
