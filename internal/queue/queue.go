// Package queue implements the per-logger bounded payload queue (C4).
//
// Invariants: FIFO order is preserved; head eviction is the sole drop policy;
// blocking-signals on evicted payloads are always released, never leaked.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/sanjaysingh/beacon-go/internal/payload"
)

// DefaultCapacity is ReportingQueueDepth's default (§3).
const DefaultCapacity = 20

// Result is the outcome of one successful HTTP round trip, decoded from the
// ingestion response (§6).
type Result struct {
	StatusCode int
	RetryAfter time.Duration // parsed from a 429's Retry-After header, if any
	Err        int           // response body's "err" field; 0 means success
	Message    string        // response body's "message" field on application error
}

// Client is the abstract HTTP delivery collaborator (§1: out of scope,
// interface only). The controller calls PostAsJson once per dispatch
// attempt; Queue only holds the handle so it can be swapped atomically on
// reconfigure (§3 "Reconfiguration is atomic").
type Client interface {
	PostAsJson(ctx context.Context, endpoint, accessToken string, body []byte) (*Result, error)
}

// OverflowSink receives QueueOverflow notifications (§4.1). Kept as a small
// local interface, rather than importing the event bus package, to avoid a
// dependency cycle between queue and eventbus.
type OverflowSink interface {
	QueueOverflow(loggerName string, evicted *payload.Payload)
}

// Queue is one logger's bounded FIFO of pending payloads.
type Queue struct {
	mu   sync.Mutex
	name string
	tok  string
	cap  int
	buf  []*payload.Payload

	client Client
	sink   OverflowSink

	nextDequeue time.Time
	backoff     time.Duration

	dispatched atomic.Int64
	dropped    atomic.Int64
}

// New creates a Queue owned by logger name, scoped to accessToken for rate
// limiting, delivering through client. capacity <= 0 falls back to
// DefaultCapacity.
func New(name, accessToken string, capacity int, client Client, sink OverflowSink) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		name: name,
		tok:  accessToken,
		cap:  capacity,
		buf:  make([]*payload.Payload, 0, capacity),
		client: client,
		sink:   sink,
	}
}

// Name returns the owning logger's name.
func (q *Queue) Name() string { return q.name }

// AccessToken returns the access token this queue's payloads carry.
func (q *Queue) AccessToken() string { return q.tok }

// Capacity returns ReportingQueueDepth for this queue.
func (q *Queue) Capacity() int { return q.cap }

// Enqueue appends p. If the queue already holds Capacity() items, the head
// (oldest) is evicted first and a QueueOverflow notification is fired via the
// sink (§4.1). The evicted payload's signal is released with Evicted.
func (q *Queue) Enqueue(p *payload.Payload) {
	q.mu.Lock()
	var evicted *payload.Payload
	if len(q.buf) >= q.cap {
		evicted = q.buf[0]
		q.buf = q.buf[1:]
		q.dropped.Inc()
	}
	q.buf = append(q.buf, p)
	q.mu.Unlock()

	if evicted != nil {
		evicted.Release(payload.OutcomeEvicted)
		if q.sink != nil {
			q.sink.QueueOverflow(q.name, evicted)
		}
	}
}

// Peek returns the head payload without removing it.
func (q *Queue) Peek() (*payload.Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	return q.buf[0], true
}

// Dequeue removes and returns the head payload.
func (q *Queue) Dequeue() (*payload.Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	p := q.buf[0]
	q.buf = q.buf[1:]
	q.dispatched.Inc()
	return p, true
}

// DropHead removes the head payload without counting it as dispatched (used
// for deadline sweeps, §4.2 step 2).
func (q *Queue) DropHead() (*payload.Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	p := q.buf[0]
	q.buf = q.buf[1:]
	return p, true
}

// Len reports the number of resident payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Flush atomically clears the queue, releasing every dropped payload's
// signal with Aborted (§4.1).
func (q *Queue) Flush() {
	q.mu.Lock()
	dropped := q.buf
	q.buf = make([]*payload.Payload, 0, q.cap)
	q.nextDequeue = time.Time{}
	q.mu.Unlock()

	for _, p := range dropped {
		p.Release(payload.OutcomeAborted)
	}
}

// UpdateClient atomically swaps the HTTP client handle (called during
// reconfigure, §3).
func (q *Queue) UpdateClient(c Client) {
	q.mu.Lock()
	q.client = c
	q.mu.Unlock()
}

// Client returns the current HTTP client handle.
func (q *Queue) Client() Client {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.client
}

// NextDequeueTime returns the monotonic-ish timestamp before which this
// queue's head must not be dispatched (§3).
func (q *Queue) NextDequeueTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextDequeue
}

// SetNextDequeueTime sets the readiness gate (§4.2 step 1).
func (q *Queue) SetNextDequeueTime(t time.Time) {
	q.mu.Lock()
	q.nextDequeue = t
	q.mu.Unlock()
}

// Backoff returns the queue's current exponential-backoff duration, used to
// compute the next NextDequeueTime after a transient failure (§4.2 step 5).
func (q *Queue) Backoff() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backoff
}

// SetBackoff stores the current backoff duration.
func (q *Queue) SetBackoff(d time.Duration) {
	q.mu.Lock()
	q.backoff = d
	q.mu.Unlock()
}

// ResetBackoff clears the backoff state after a successful dispatch.
func (q *Queue) ResetBackoff() {
	q.SetBackoff(0)
}

// DispatchedTotal and DroppedTotal are cumulative counters of payloads
// removed by Dequeue and of payloads evicted on overflow, respectively.
func (q *Queue) DispatchedTotal() int64 { return q.dispatched.Load() }
func (q *Queue) DroppedTotal() int64    { return q.dropped.Load() }
