// Package payload implements the immutable report envelope (C1): one report
// plus an optional blocking-signal and per-item deadline.
//
// A Payload is immutable after construction except for the cached serialized
// body and the attached telemetry snapshot, both of which are set exactly
// once on the first transmission attempt (§3).
package payload

import (
	"sync"
	"time"

	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// Outcome is the terminal state a Payload's Signal is released with.
type Outcome int

// Terminal outcomes (§4.2, §8).
const (
	// OutcomeNone means the signal has not yet been released.
	OutcomeNone Outcome = iota
	OutcomeDelivered
	OutcomeAPIError
	OutcomeEvicted
	OutcomeTimedOut
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "Delivered"
	case OutcomeAPIError:
		return "ApiError"
	case OutcomeEvicted:
		return "Evicted"
	case OutcomeTimedOut:
		return "TimedOut"
	case OutcomeAborted:
		return "Aborted"
	default:
		return "None"
	}
}

// Signal is a single-use synchronization primitive attached to a Payload so a
// blocking caller (C8) can await its terminal outcome. Release is idempotent:
// only the first call has any effect, matching "the signal is consumed at the
// first of: terminal outcome, deadline" (§5).
type Signal struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

// NewSignal creates an unreleased Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Release sets the terminal outcome and wakes any waiter. Safe to call
// concurrently; only the first call wins.
func (s *Signal) Release(outcome Outcome) {
	s.once.Do(func() {
		s.outcome = outcome
		close(s.done)
	})
}

// Wait blocks until Release is called or timeout elapses. ok is false on
// timeout, in which case the caller should treat the outcome as unknown
// (the payload may still be delivered later).
func (s *Signal) Wait(timeout time.Duration) (outcome Outcome, ok bool) {
	select {
	case <-s.done:
		return s.outcome, true
	case <-time.After(timeout):
		return OutcomeNone, false
	}
}

// Payload is one report envelope, the unit of delivery through the pipeline.
type Payload struct {
	// AccessToken identifies the destination project and the rate-limit
	// accounting key (§3). Must be non-empty.
	AccessToken string

	// Data is the opaque, JSON-serializable report body (typically a
	// *body.Data, but the pipeline only needs it to be marshalable).
	Data interface{}

	// Deadline, if set, is an absolute time after which the payload must be
	// dropped rather than dispatched (§4.2 step 2).
	Deadline *time.Time

	// Signal, if set, is released exactly once with the terminal outcome.
	Signal *Signal

	mu                sync.Mutex
	cachedBody        []byte
	bodySerialized    bool
	telemetrySnapshot []telemetry.Item
	telemetryAttached bool
}

// New constructs a Payload. accessToken must be non-empty; construction-time
// validation of that invariant is the caller's (Logger's) responsibility per
// §7 ConfigurationError.
func New(accessToken string, data interface{}) *Payload {
	return &Payload{AccessToken: accessToken, Data: data}
}

// WithDeadline returns p with an absolute deadline attached. Intended to be
// called once, before the payload is enqueued.
func (p *Payload) WithDeadline(d time.Time) *Payload {
	p.Deadline = &d
	return p
}

// WithSignal returns p with a blocking Signal attached. Intended to be called
// once, before the payload is enqueued.
func (p *Payload) WithSignal(s *Signal) *Payload {
	p.Signal = s
	return p
}

// Expired reports whether p's deadline (if any) is strictly before now.
func (p *Payload) Expired(now time.Time) bool {
	return p.Deadline != nil && p.Deadline.Before(now)
}

// Release releases p's Signal (if attached) with outcome. No-op if no Signal
// is attached, or if the Signal was already released.
func (p *Payload) Release(outcome Outcome) {
	if p.Signal != nil {
		p.Signal.Release(outcome)
	}
}

// CachedBody returns the previously serialized HTTP body and true, or nil and
// false if the body has not yet been serialized. Guards against re-running
// Transform/Truncate or rebuilding the body on retry (§9: "Cached serialized
// body... is a contract, not an optimization").
func (p *Payload) CachedBody() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cachedBody, p.bodySerialized
}

// SetCachedBody stores the serialized HTTP body, once. Subsequent calls are
// no-ops so a retry never re-derives a different byte sequence.
func (p *Payload) SetCachedBody(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bodySerialized {
		return
	}
	p.cachedBody = b
	p.bodySerialized = true
}

// TelemetrySnapshot returns the attached telemetry snapshot and true, or nil
// and false if none has been attached yet.
func (p *Payload) TelemetrySnapshot() ([]telemetry.Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.telemetrySnapshot, p.telemetryAttached
}

// AttachTelemetry attaches a telemetry snapshot, once, just before first
// transmission (§3).
func (p *Payload) AttachTelemetry(items []telemetry.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.telemetryAttached {
		return
	}
	p.telemetrySnapshot = items
	p.telemetryAttached = true
}
