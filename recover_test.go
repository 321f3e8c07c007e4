package beacon

import (
	"testing"
	"time"
)

func TestRecoverAndReportDeliversAndRepanics(t *testing.T) {
	l, _, cc := newTestLogger(t)
	defer l.Close()

	panicked := func() (recovered interface{}) {
		defer func() { recovered = recover() }()
		defer RecoverAndReportTimeout(l, time.Second)
		panic("kaboom")
	}()

	if panicked != "kaboom" {
		t.Fatalf("expected RecoverAndReport to re-panic with the original value, got %v", panicked)
	}
	if cc.n == 0 {
		t.Error("expected the panic to have been reported before re-panicking")
	}
}

func TestRecoverAndReportNoopWithoutPanic(t *testing.T) {
	l, _, cc := newTestLogger(t)
	defer l.Close()

	func() {
		defer RecoverAndReportTimeout(l, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if cc.n != 0 {
		t.Errorf("expected no report when nothing panicked, got %d", cc.n)
	}
}
