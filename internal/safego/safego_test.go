package safego

import (
	"testing"
	"time"
)

func waitOrFail(t *testing.T, done <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error(msg)
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })
	waitOrFail(t, done, "goroutine did not run within timeout")
}

func TestGo_RecoversPanic(t *testing.T) {
	// The panic must be recovered instead of crashing the test process.
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("intentional panic in test")
	})
	waitOrFail(t, done, "goroutine did not complete within timeout after panic")
}

func TestGo_PanicDoesNotAffectLaterGoroutines(t *testing.T) {
	Go(func() { panic("first") })

	done := make(chan struct{})
	Go(func() { close(done) })
	waitOrFail(t, done, "launcher unusable after a recovered panic")
}
