package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sanjaysingh/beacon-go/internal/client"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/payload"
	"github.com/sanjaysingh/beacon-go/internal/queue"
	"github.com/sanjaysingh/beacon-go/internal/ratelimit"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// scriptedClient replays a fixed sequence of responses, one per call, and
// sticks on the last entry once exhausted.
type scriptedClient struct {
	mu       sync.Mutex
	results  []*queue.Result
	errs     []error
	calls    int
	lastBody []byte
}

func (s *scriptedClient) PostAsJson(ctx context.Context, endpoint, token string, body []byte) (*queue.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBody = append([]byte(nil), body...)
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i], s.errs[i]
}

func newHarness(t *testing.T) (*Controller, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	ring := telemetry.NewRing(10)
	limiter := ratelimit.NewLimiter(0)
	return New(bus, ring, limiter, nil, 10*time.Millisecond), bus
}

func collect(bus *eventbus.Bus) *[]eventbus.Event {
	events := &[]eventbus.Event{}
	var mu sync.Mutex
	bus.Subscribe(func(e eventbus.Event) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	})
	return events
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDispatchSuccessDeliversAndPublishes(t *testing.T) {
	c, bus := newHarness(t)
	events := collect(bus)

	sc := &scriptedClient{results: []*queue.Result{{StatusCode: 200, Err: 0}}, errs: []error{nil}}
	q := c.Register("l1", "tok", "https://intake.example/", 20, 60, 0, client.ProxyKey{}, 0, false, "")
	q.UpdateClient(sc)

	sig := payload.NewSignal()
	p := payload.New("tok", map[string]string{"hello": "world"}).WithSignal(sig)
	q.Enqueue(p)

	outcome, ok := sig.Wait(2 * time.Second)
	if !ok {
		t.Fatal("signal never released")
	}
	if outcome != payload.OutcomeDelivered {
		t.Fatalf("outcome = %v, want Delivered", outcome)
	}

	waitFor(t, time.Second, func() bool { return len(*events) > 0 })
	if (*events)[0].Kind != eventbus.KindCommunication {
		t.Errorf("event kind = %v, want Communication", (*events)[0].Kind)
	}

	c.Deregister("l1")
}

func TestDispatchSendsAccessTokenDataEnvelope(t *testing.T) {
	c, _ := newHarness(t)

	sc := &scriptedClient{results: []*queue.Result{{StatusCode: 200, Err: 0}}, errs: []error{nil}}
	q := c.Register("l1e", "tok-env", "https://intake.example/", 20, 60, 0, client.ProxyKey{}, 0, false, "")
	q.UpdateClient(sc)

	sig := payload.NewSignal()
	p := payload.New("tok-env", map[string]string{"hello": "world"}).WithSignal(sig)
	q.Enqueue(p)

	if _, ok := sig.Wait(2 * time.Second); !ok {
		t.Fatal("signal never released")
	}

	sc.mu.Lock()
	body := sc.lastBody
	sc.mu.Unlock()

	var envelope struct {
		AccessToken string                 `json:"access_token"`
		Data        map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("body is not a valid {access_token, data} envelope: %v\nbody: %s", err, body)
	}
	if envelope.AccessToken != "tok-env" {
		t.Errorf("envelope.access_token = %q, want %q", envelope.AccessToken, "tok-env")
	}
	if envelope.Data["hello"] != "world" {
		t.Errorf("envelope.data = %+v, missing the wrapped report body", envelope.Data)
	}

	c.Deregister("l1e")
}

func TestMaxItemsCapIsProcessWideNotPerQueue(t *testing.T) {
	c, bus := newHarness(t)
	events := collect(bus)

	sc1 := &scriptedClient{results: []*queue.Result{{StatusCode: 200, Err: 0}}, errs: []error{nil}}
	sc2 := &scriptedClient{results: []*queue.Result{{StatusCode: 200, Err: 0}}, errs: []error{nil}}
	q1 := c.Register("maxitems-a", "tokA", "https://intake.example/", 20, 60, 1, client.ProxyKey{}, 0, false, "")
	q1.UpdateClient(sc1)
	q2 := c.Register("maxitems-b", "tokB", "https://intake.example/", 20, 60, 1, client.ProxyKey{}, 0, false, "")
	q2.UpdateClient(sc2)

	sig1 := payload.NewSignal()
	q1.Enqueue(payload.New("tokA", "first").WithSignal(sig1))
	outcome1, ok := sig1.Wait(2 * time.Second)
	if !ok || outcome1 != payload.OutcomeDelivered {
		t.Fatalf("first payload outcome = %v ok=%v, want Delivered", outcome1, ok)
	}

	// The process-wide delivered counter is now at 1, equal to both queues'
	// MaxItems. A second payload on a *different* queue must still be capped,
	// proving the counter is shared rather than reset per queue.
	sig2 := payload.NewSignal()
	q2.Enqueue(payload.New("tokB", "second").WithSignal(sig2))
	outcome2, ok := sig2.Wait(2 * time.Second)
	if !ok || outcome2 != payload.OutcomeAborted {
		t.Fatalf("second payload outcome = %v ok=%v, want Aborted (process-wide MaxItems reached)", outcome2, ok)
	}

	waitFor(t, time.Second, func() bool {
		for _, e := range *events {
			if e.IntErrKind == eventbus.IntErrMaxItemsReached {
				return true
			}
		}
		return false
	})

	c.Deregister("maxitems-a")
	c.Deregister("maxitems-b")
}

func TestDispatchRateLimitedDoesNotDequeue(t *testing.T) {
	c, bus := newHarness(t)
	events := collect(bus)

	sc := &scriptedClient{results: []*queue.Result{{StatusCode: 429, RetryAfter: 30 * time.Second}}, errs: []error{nil}}
	q := c.Register("l2", "tok2", "https://intake.example/", 20, 60, 0, client.ProxyKey{}, 0, false, "")
	q.UpdateClient(sc)

	p := payload.New("tok2", "oops")
	q.Enqueue(p)

	waitFor(t, time.Second, func() bool { return len(*events) > 0 })
	if (*events)[0].Kind != eventbus.KindCommunicationError || (*events)[0].CommErrKind != eventbus.CommErrRateLimited {
		t.Fatalf("event = %+v, want CommunicationError/RateLimited", (*events)[0])
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1 (payload must not be dequeued on 429)", q.Len())
	}

	c.Deregister("l2")
}

func TestReconfigureFlushesQueueSwapsClientAndResetsSchedule(t *testing.T) {
	c, bus := newHarness(t)
	events := collect(bus)

	sc1 := &scriptedClient{results: []*queue.Result{{StatusCode: 500}}, errs: []error{nil}}
	q := c.Register("l4", "tok4", "https://intake.example/", 20, 60, 0, client.ProxyKey{}, 0, false, "")
	q.UpdateClient(sc1)

	// Force the entry's NextDequeueTime into the future via a 429, then
	// enqueue a payload that will sit in the queue behind that backoff.
	sc1.results = []*queue.Result{{StatusCode: 429, RetryAfter: time.Hour}}
	stuck := payload.New("tok4", "stuck")
	q.Enqueue(stuck)
	waitFor(t, time.Second, func() bool { return len(*events) > 0 })

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1 (payload held behind rate limiting)", q.Len())
	}

	ok := c.Reconfigure("l4", "https://intake.example/v2", 30, 0, client.ProxyKey{}, 0, false, "")
	if !ok {
		t.Fatal("Reconfigure returned false for a registered logger")
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d after Reconfigure, want 0 (queue must be flushed)", q.Len())
	}

	sc2 := &scriptedClient{results: []*queue.Result{{StatusCode: 200, Err: 0}}, errs: []error{nil}}
	q.UpdateClient(sc2)

	sig := payload.NewSignal()
	p := payload.New("tok4", "after-reconfigure").WithSignal(sig)
	q.Enqueue(p)

	outcome, ok := sig.Wait(2 * time.Second)
	if !ok || outcome != payload.OutcomeDelivered {
		t.Fatalf("post-reconfigure outcome = %v ok=%v, want Delivered (NextDequeueTime must be reset)", outcome, ok)
	}

	if sc1.calls == 0 {
		t.Error("expected the stuck payload's original client to have been exercised at least once")
	}
	sc2.mu.Lock()
	calls := sc2.calls
	sc2.mu.Unlock()
	if calls == 0 {
		t.Error("expected Reconfigure to route new traffic through the swapped client")
	}

	c.Deregister("l4")
}

func TestReconfigureUnknownLoggerReturnsFalse(t *testing.T) {
	c, _ := newHarness(t)
	if c.Reconfigure("nope", "https://intake.example/", 60, 0, client.ProxyKey{}, 0, false, "") {
		t.Error("Reconfigure on an unregistered name should return false")
	}
}

func TestDeadlineSweepDropsExpiredPayload(t *testing.T) {
	c, bus := newHarness(t)
	events := collect(bus)

	sc := &scriptedClient{results: []*queue.Result{{StatusCode: 200}}, errs: []error{nil}}
	q := c.Register("l3", "tok3", "https://intake.example/", 20, 60, 0, client.ProxyKey{}, 0, false, "")
	q.UpdateClient(sc)

	sig := payload.NewSignal()
	past := time.Now().Add(-time.Hour)
	p := payload.New("tok3", "late").WithDeadline(past).WithSignal(sig)
	q.Enqueue(p)

	outcome, ok := sig.Wait(2 * time.Second)
	if !ok || outcome != payload.OutcomeTimedOut {
		t.Fatalf("outcome = %v ok=%v, want TimedOut", outcome, ok)
	}

	waitFor(t, time.Second, func() bool { return len(*events) > 0 })
	if (*events)[0].IntErrKind != eventbus.IntErrPayloadTimeout {
		t.Errorf("event = %+v, want IntErrPayloadTimeout", (*events)[0])
	}

	c.Deregister("l3")
}
