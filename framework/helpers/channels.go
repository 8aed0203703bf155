package helpers

import (
	"time"

	"github.com/launchdarkly/test-engine/framework/opt"
)

// NonBlockingSend sends a value if the channel has room for it, and reports whether it did.
func NonBlockingSend[V any](ch chan<- V, value V) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// TryReceive waits up to the timeout for a value. The result is empty if none arrived.
func TryReceive[V any](ch <-chan V, timeout time.Duration) opt.Maybe[V] {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case value := <-ch:
		return opt.Some(value)
	case <-deadline.C:
		return opt.None[V]()
	}
}

// RequireValue receives a value, or fails the test and stops it if none arrives in time.
func RequireValue[V any](t TestContext, ch <-chan V, timeout time.Duration) V {
	t.Helper()
	value := TryReceive(ch, timeout)
	if !value.IsDefined() {
		var empty V
		t.Errorf("timed out after %s waiting for value of type %T", timeout, empty)
		t.FailNow()
	}
	return value.Value()
}

// RequireNoMoreValues fails the test and stops it if a value arrives within the timeout.
func RequireNoMoreValues[V any](t TestContext, ch <-chan V, timeout time.Duration) {
	t.Helper()
	if value := TryReceive(ch, timeout); value.IsDefined() {
		t.Errorf("received unexpected extra value: %+v", value.Value())
		t.FailNow()
	}
}
