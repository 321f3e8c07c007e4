package beacon

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sanjaysingh/beacon-go/internal/config"
	"github.com/sanjaysingh/beacon-go/internal/controller"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/queue"
	"github.com/sanjaysingh/beacon-go/internal/ratelimit"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

type countingClient struct{ n int }

func (c *countingClient) PostAsJson(ctx context.Context, endpoint, token string, body []byte) (*queue.Result, error) {
	c.n++
	return &queue.Result{StatusCode: 200}, nil
}

func newTestLogger(t *testing.T) (*Logger, *eventbus.Bus, *countingClient) {
	t.Helper()
	bus := eventbus.New(zap.NewNop())
	ring := telemetry.NewRing(10)
	ctrl := controller.New(bus, ring, ratelimit.NewLimiter(0), zap.NewNop(), 10*time.Millisecond)

	cfg := config.New()
	cfg.AccessToken = "tok"
	cfg.Environment = "test"

	l, err := New(ctrl, bus, cfg, "t1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cc := &countingClient{}
	l.q.UpdateClient(cc)
	return l, bus, cc
}

func TestLogSubmitsAndDeliversReport(t *testing.T) {
	l, _, cc := newTestLogger(t)
	defer l.Close()

	l.Error(errors.New("boom"), map[string]interface{}{"a": 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cc.n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the report to reach the client within the deadline")
}

func TestLogBelowThresholdIsDropped(t *testing.T) {
	l, _, cc := newTestLogger(t)
	defer l.Close()
	l.cfg.LogLevel = "error"
	l.threshold = levelRank[telemetry.LevelError]

	l.Debug("quiet", nil)

	time.Sleep(50 * time.Millisecond)
	if cc.n != 0 {
		t.Errorf("expected no dispatch for a below-threshold report, got %d", cc.n)
	}
}

func TestCheckIgnorePanicTreatedAsNotIgnored(t *testing.T) {
	l, _, cc := newTestLogger(t)
	defer l.Close()
	l.cfg.CheckIgnore = func(level string, obj interface{}) bool { panic("boom") }

	l.Error("should still be delivered", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cc.n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("a panicking CheckIgnore must not suppress the report")
}

func TestBlockingLoggerReturnsDeliveredOutcome(t *testing.T) {
	l, _, _ := newTestLogger(t)
	defer l.Close()

	bl := NewBlockingLogger(l)
	outcome, err := bl.Error("blocking report", nil, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.String() != "Delivered" {
		t.Errorf("outcome = %v, want Delivered", outcome)
	}
}

func TestReconfigureSwapsClientInPlace(t *testing.T) {
	l, _, cc1 := newTestLogger(t)
	defer l.Close()

	newCfg := config.New()
	newCfg.AccessToken = "tok"
	newCfg.Environment = "test"
	newCfg.EndPoint = "https://intake.example/v2"
	newCfg.MaxReportsPerMinute = 120

	if err := l.Reconfigure(newCfg); err != nil {
		t.Fatalf("Reconfigure returned error: %v", err)
	}

	cc2 := &countingClient{}
	l.q.UpdateClient(cc2)

	l.Error("after reconfigure", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cc2.n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected traffic to flow through the post-Reconfigure client (original client saw %d calls)", cc1.n)
}

func TestReconfigureRejectsAccessTokenChange(t *testing.T) {
	l, _, _ := newTestLogger(t)
	defer l.Close()

	newCfg := config.New()
	newCfg.AccessToken = "different-tok"
	newCfg.Environment = "test"

	if err := l.Reconfigure(newCfg); err == nil {
		t.Fatal("expected Reconfigure to reject an AccessToken change")
	}
}
