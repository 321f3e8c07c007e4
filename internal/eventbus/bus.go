// Package eventbus implements the subscriber-notification channel for
// delivery outcomes and internal errors (C7).
//
// Delivery is synchronous on the controller's tick thread; handlers must not
// block (§4.6). A handler that panics is recovered and turned into a
// best-effort log line so one broken subscriber can't take down the
// controller tick — the same "one poisoned payload cannot kill the pipeline"
// principle §7 applies to the eventing surface, not just dispatch.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sanjaysingh/beacon-go/internal/payload"
)

// Kind tags which RollbarEvent variant an Event carries (§4.6).
type Kind string

const (
	KindCommunication      Kind = "communication"
	KindCommunicationError Kind = "communication_error"
	KindAPIError           Kind = "api_error"
	KindInternalError      Kind = "internal_error"
)

// CommErrorKind further classifies a CommunicationError (§7).
type CommErrorKind string

const (
	CommErrRateLimited CommErrorKind = "rate_limited"
	CommErrTransport   CommErrorKind = "transport"
	CommErrServer      CommErrorKind = "server"
)

// InternalErrorKind further classifies an InternalError (§7).
type InternalErrorKind string

const (
	IntErrQueueOverflow   InternalErrorKind = "queue_overflow"
	IntErrPayloadTimeout  InternalErrorKind = "payload_timeout"
	IntErrMaxItemsReached InternalErrorKind = "max_items_reached"
	IntErrUserCallback    InternalErrorKind = "user_callback"
	IntErrInternal        InternalErrorKind = "internal"
)

// ResultSummary is a minimal, bus-local view of an HTTP outcome, kept
// independent of the queue/client packages' richer Result type so eventbus
// has no upward dependency on them.
type ResultSummary struct {
	StatusCode int
	Err        int
	Message    string
}

// Event is one notification carried on the bus: the responsible
// logger/config, the offending payload (if any), an optional exception, and
// a human-readable context string (§4.6).
type Event struct {
	Kind        Kind
	LoggerName  string
	AccessToken string
	Payload     *payload.Payload
	Err         error
	Context     string

	CommErrKind CommErrorKind
	IntErrKind  InternalErrorKind
	Result      *ResultSummary
}

// Handler processes one Event. Handlers must not block (§4.6).
type Handler func(Event)

// Bus is a synchronous, in-process event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs []Handler
}

// New creates a Bus that logs handler panics through log.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers handler to receive all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.subs = append(b.subs, h)
	b.mu.Unlock()
}

// Publish synchronously invokes every subscriber with e, on the caller's
// goroutine (the controller's tick thread, §4.6).
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]Handler, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, h := range subs {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event bus subscriber panicked", zap.Any("recover", r), zap.String("kind", string(e.Kind)))
		}
	}()
	h(e)
}

// QueueOverflow satisfies queue.OverflowSink, translating a dropped payload
// into an InternalError{QueueOverflow} event (§4.1).
func (b *Bus) QueueOverflow(loggerName string, evicted *payload.Payload) {
	b.Publish(Event{
		Kind:       KindInternalError,
		LoggerName: loggerName,
		Payload:    evicted,
		IntErrKind: IntErrQueueOverflow,
		Context:    "queue overflow, oldest payload evicted",
	})
}
