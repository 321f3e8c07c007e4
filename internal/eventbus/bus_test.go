package eventbus

import (
	"testing"

	"github.com/sanjaysingh/beacon-go/internal/payload"
)

func TestPublishInvokesAllSubscribers(t *testing.T) {
	b := New(nil)
	var got []Event
	b.Subscribe(func(e Event) { got = append(got, e) })
	b.Subscribe(func(e Event) { got = append(got, e) })

	b.Publish(Event{Kind: KindCommunication, LoggerName: "l"})

	if len(got) != 2 {
		t.Fatalf("expected both subscribers to be invoked, got %d calls", len(got))
	}
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	b := New(nil)
	called := false
	b.Subscribe(func(e Event) { panic("boom") })
	b.Subscribe(func(e Event) { called = true })

	b.Publish(Event{Kind: KindInternalError})

	if !called {
		t.Fatal("a panicking subscriber must not prevent later subscribers from running")
	}
}

func TestQueueOverflowPublishesInternalError(t *testing.T) {
	b := New(nil)
	var got Event
	b.Subscribe(func(e Event) { got = e })

	p := payload.New("tok", "body")
	b.QueueOverflow("mylogger", p)

	if got.Kind != KindInternalError || got.IntErrKind != IntErrQueueOverflow {
		t.Errorf("got %+v, want InternalError/QueueOverflow", got)
	}
	if got.LoggerName != "mylogger" || got.Payload != p {
		t.Errorf("event did not carry the expected logger/payload")
	}
}
