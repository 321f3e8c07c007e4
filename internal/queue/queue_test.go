package queue

import (
	"context"
	"testing"

	"github.com/sanjaysingh/beacon-go/internal/payload"
)

type fakeClient struct{}

func (fakeClient) PostAsJson(ctx context.Context, endpoint, token string, body []byte) (*Result, error) {
	return &Result{StatusCode: 200}, nil
}

type recordingSink struct {
	overflowed []*payload.Payload
}

func (s *recordingSink) QueueOverflow(loggerName string, evicted *payload.Payload) {
	s.overflowed = append(s.overflowed, evicted)
}

func TestEnqueueOldestDropOnOverflow(t *testing.T) {
	sink := &recordingSink{}
	q := New("logger", "tok", 20, fakeClient{}, sink)

	for i := 0; i < 25; i++ {
		q.Enqueue(payload.New("tok", i))
	}

	if got := q.Len(); got != 20 {
		t.Fatalf("queue size = %d, want 20", got)
	}
	if got := len(sink.overflowed); got != 5 {
		t.Fatalf("overflow events = %d, want 5", got)
	}
	// The first five submitted (0..4) must be the ones evicted, in order.
	for i, p := range sink.overflowed {
		if p.Data.(int) != i {
			t.Errorf("overflowed[%d].Data = %v, want %d", i, p.Data, i)
		}
	}
	// The remaining 20 (5..24) must still be resident in submission order.
	head, _ := q.Peek()
	if head.Data.(int) != 5 {
		t.Errorf("head.Data = %v, want 5", head.Data)
	}
}

func TestEnqueueReleasesEvictedSignal(t *testing.T) {
	q := New("logger", "tok", 1, fakeClient{}, nil)
	s := payload.NewSignal()
	q.Enqueue(payload.New("tok", "first").WithSignal(s))
	q.Enqueue(payload.New("tok", "second"))

	outcome, ok := s.Wait(0)
	if !ok {
		t.Fatal("expected evicted payload's signal to be released immediately")
	}
	if outcome != payload.OutcomeEvicted {
		t.Errorf("outcome = %v, want Evicted", outcome)
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New("logger", "tok", 5, fakeClient{}, nil)
	q.Enqueue(payload.New("tok", 1))
	q.Enqueue(payload.New("tok", 2))

	p, ok := q.Dequeue()
	if !ok || p.Data.(int) != 1 {
		t.Fatalf("expected first dequeue to return 1, got %+v", p)
	}
	if got := q.DispatchedTotal(); got != 1 {
		t.Errorf("DispatchedTotal = %d, want 1", got)
	}
}

func TestFlushReleasesAborted(t *testing.T) {
	q := New("logger", "tok", 5, fakeClient{}, nil)
	s1, s2 := payload.NewSignal(), payload.NewSignal()
	q.Enqueue(payload.New("tok", 1).WithSignal(s1))
	q.Enqueue(payload.New("tok", 2).WithSignal(s2))

	q.Flush()

	if got := q.Len(); got != 0 {
		t.Fatalf("queue size after flush = %d, want 0", got)
	}
	for i, s := range []*payload.Signal{s1, s2} {
		outcome, ok := s.Wait(0)
		if !ok || outcome != payload.OutcomeAborted {
			t.Errorf("signal %d outcome = %v (ok=%v), want Aborted", i, outcome, ok)
		}
	}
}
