package telemetry

import (
	"go.uber.org/zap/zapcore"
)

// CaptureCore wraps a zapcore.Core so every Warn-and-above entry logged
// through it is also captured as a "log" source breadcrumb on ring, in
// addition to whatever the wrapped core does with it (§4.5: autocapture
// starts on first logger construction). This needs no extra goroutine per
// logger — it piggybacks on log calls the process is already making.
type CaptureCore struct {
	zapcore.Core
	ring *Ring
}

// NewCaptureCore wraps core so its Warn+ entries are mirrored onto ring.
func NewCaptureCore(core zapcore.Core, ring *Ring) *CaptureCore {
	return &CaptureCore{Core: core, ring: ring}
}

// Check delegates to the wrapped core, registering itself (not the wrapped
// core directly) as the entry to call on Write, so Write below still runs.
func (c *CaptureCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return ce.AddCore(entry, c)
}

// Write captures entry as a breadcrumb before delegating to the wrapped
// core's own Write.
func (c *CaptureCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.WarnLevel {
		body := map[string]interface{}{"message": entry.Message, "logger": entry.LoggerName}
		c.ring.Capture(Item{Timestamp: entry.Time, Source: SourceLog, Level: levelFromZap(entry.Level), Body: body})
	}
	return c.Core.Write(entry, fields)
}

func levelFromZap(l zapcore.Level) Level {
	switch {
	case l >= zapcore.DPanicLevel:
		return LevelCritical
	case l >= zapcore.ErrorLevel:
		return LevelError
	case l >= zapcore.WarnLevel:
		return LevelWarning
	case l >= zapcore.InfoLevel:
		return LevelInfo
	default:
		return LevelDebug
	}
}
