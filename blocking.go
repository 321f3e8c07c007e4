package beacon

import (
	"time"

	"github.com/sanjaysingh/beacon-go/internal/payload"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// BlockingLogger wraps a Logger for callers that need to know a report's
// terminal outcome before proceeding — e.g. a crash handler reporting just
// before process exit (§5, §8.2 C8).
type BlockingLogger struct {
	l *Logger
}

// NewBlockingLogger wraps l.
func NewBlockingLogger(l *Logger) *BlockingLogger {
	return &BlockingLogger{l: l}
}

// ErrTimeout is returned by LogAndWait when timeout elapses before the
// report reached a terminal outcome. The report may still be delivered
// later; its fate is simply unknown to the caller at this point (§5).
var ErrTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "beacon: timed out waiting for report outcome" }

// LogAndWait submits a report exactly like Logger.Log, then blocks until it
// reaches a terminal outcome or timeout elapses. timeout <= 0 uses the
// logger's RecommendedTimeout (§5 getRecommendedTimeout). The same timeout is
// also attached to the payload as an absolute deadline, so a report stuck
// behind backoff or rate-limiting past the point this call gives up is swept
// and dropped by the controller instead of lingering in the queue (§5, §4.2
// step 2).
func (b *BlockingLogger) LogAndWait(level telemetry.Level, obj interface{}, custom map[string]interface{}, timeout time.Duration) (payload.Outcome, error) {
	if timeout <= 0 {
		timeout = b.l.RecommendedTimeout()
	}
	sig := payload.NewSignal()
	deadline := time.Now().Add(timeout)
	b.l.enqueueReport(level, obj, custom, sig, &deadline)

	outcome, ok := sig.Wait(timeout)
	if !ok {
		return payload.OutcomeNone, ErrTimeout
	}
	return outcome, nil
}

// Critical, Error, and Warning are the common severities crash/shutdown
// paths report at before exiting.
func (b *BlockingLogger) Critical(obj interface{}, custom map[string]interface{}, timeout time.Duration) (payload.Outcome, error) {
	return b.LogAndWait(telemetry.LevelCritical, obj, custom, timeout)
}
func (b *BlockingLogger) Error(obj interface{}, custom map[string]interface{}, timeout time.Duration) (payload.Outcome, error) {
	return b.LogAndWait(telemetry.LevelError, obj, custom, timeout)
}
func (b *BlockingLogger) Warning(obj interface{}, custom map[string]interface{}, timeout time.Duration) (payload.Outcome, error) {
	return b.LogAndWait(telemetry.LevelWarning, obj, custom, timeout)
}
