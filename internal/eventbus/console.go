package eventbus

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// ConsoleSink prints a colorized one-line summary of every event to stderr,
// mirroring the teacher's Console logger target shipped alongside its HTTP
// one (vishal7kumar-minio internal/logger/config.go). Intended for local
// development, not production egress.
type ConsoleSink struct {
	errColor  *color.Color
	warnColor *color.Color
	okColor   *color.Color
}

// NewConsoleSink builds a ConsoleSink with the standard palette.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{
		errColor:  color.New(color.FgRed, color.Bold),
		warnColor: color.New(color.FgYellow),
		okColor:   color.New(color.FgGreen),
	}
}

// Handle is an eventbus.Handler that writes e to stderr.
func (c *ConsoleSink) Handle(e Event) {
	switch e.Kind {
	case KindCommunication:
		c.okColor.Fprintf(os.Stderr, "[beacon] delivered logger=%s token=%s size=%s\n", e.LoggerName, e.AccessToken, humanizedBodySize(e))
	case KindCommunicationError:
		c.warnColor.Fprintf(os.Stderr, "[beacon] comm-error logger=%s kind=%s: %s\n", e.LoggerName, e.CommErrKind, e.Context)
	case KindAPIError:
		c.errColor.Fprintf(os.Stderr, "[beacon] api-error logger=%s: %s\n", e.LoggerName, e.Context)
	case KindInternalError:
		c.errColor.Fprintf(os.Stderr, "[beacon] internal-error logger=%s kind=%s: %s\n", e.LoggerName, e.IntErrKind, e.Context)
	default:
		fmt.Fprintf(os.Stderr, "[beacon] event kind=%s\n", e.Kind)
	}
}

// humanizedBodySize reports e's cached serialized body size in human units
// (e.g. "1.2 kB"), or "unknown" if the payload or its body isn't available.
func humanizedBodySize(e Event) string {
	if e.Payload == nil {
		return "unknown"
	}
	body, ok := e.Payload.CachedBody()
	if !ok {
		return "unknown"
	}
	return humanize.Bytes(uint64(len(body)))
}
