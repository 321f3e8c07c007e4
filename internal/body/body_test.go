package body

import (
	"errors"
	"testing"

	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

func TestFromObjectClassifiesError(t *testing.T) {
	b := FromObject(errors.New("boom"))
	if b.Kind != KindTrace {
		t.Fatalf("expected KindTrace, got %v", b.Kind)
	}
	if b.Trace.Exception.Message != "boom" {
		t.Errorf("exception message = %q, want %q", b.Trace.Exception.Message, "boom")
	}
}

func TestFromObjectClassifiesString(t *testing.T) {
	b := FromObject("hello")
	if b.Kind != KindMessage || b.Message.Body != "hello" {
		t.Fatalf("expected message body %q, got %+v", "hello", b)
	}
}

func TestFromObjectClassifiesErrorChain(t *testing.T) {
	b := FromObject([]error{errors.New("outer"), errors.New("inner")})
	if b.Kind != KindTraceChain {
		t.Fatalf("expected KindTraceChain, got %v", b.Kind)
	}
	if len(b.TraceChain) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(b.TraceChain))
	}
}

func TestNewDataHasUUIDAndFingerprint(t *testing.T) {
	d := New("prod", telemetry.LevelError, ExceptionBody(errors.New("boom")), nil)
	if d.UUID == "" {
		t.Error("expected a non-empty uuid")
	}
	if d.Fingerprint == "" {
		t.Error("expected a derived fingerprint for an exception body")
	}
	if d.Level != telemetry.LevelError {
		t.Errorf("level = %q, want error", d.Level)
	}
}

func TestMessageBodyTitle(t *testing.T) {
	d := New("prod", telemetry.LevelInfo, MessageBody("boom", nil), nil)
	if d.Title != "boom" {
		t.Errorf("title = %q, want %q", d.Title, "boom")
	}
}
