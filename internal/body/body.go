// Package body builds the JSON Data transfer object that rides inside a
// Payload (§6). It replaces the original notifier's reflective packaging
// (runtime type inspection over arbitrary objects) with a small tagged
// variant and explicit constructors (Design Note 9):
//
//	Message | Exception | ExceptionChain | CrashReport | Arbitrary
//
// Exception frame extraction is limited to runtime.Callers plus the error's
// type name and Error() string — no symbolication or source maps (§1, out of
// scope).
package body

import (
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// Frame is one stack frame of an extracted exception.
type Frame struct {
	Filename string `json:"filename"`
	Lineno   int    `json:"lineno"`
	Method   string `json:"method"`
}

// Trace is a single exception plus its extracted frames, matching the wire
// protocol's "trace" body kind (§6).
type Trace struct {
	Frames    []Frame `json:"frames"`
	Exception struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"exception"`
}

// Message is the wire protocol's "message" body kind.
type Message struct {
	Body  string                 `json:"body"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// CrashReportBody is the wire protocol's "crash_report" body kind: an opaque
// preformatted report (e.g. a panic dump), passed through verbatim.
type CrashReportBody struct {
	Raw string `json:"raw"`
}

// Kind tags which variant of Body is populated.
type Kind string

const (
	KindMessage     Kind = "message"
	KindTrace       Kind = "trace"
	KindTraceChain  Kind = "trace_chain"
	KindCrashReport Kind = "crash_report"
)

// Body is the tagged union of the wire protocol's `data.body` field (§6).
// Exactly one of the pointer fields is populated, selected by Kind.
type Body struct {
	Kind       Kind             `json:"-"`
	Message    *Message         `json:"message,omitempty"`
	Trace      *Trace           `json:"trace,omitempty"`
	TraceChain []Trace          `json:"trace_chain,omitempty"`
	CrashRpt   *CrashReportBody `json:"crash_report,omitempty"`
}

// MessageBody builds a Body carrying a plain message, optionally with a
// custom key/value payload (the "Arbitrary" constructor folded into the
// message path when the caller passes a map as obj — see FromObject).
func MessageBody(text string, extra map[string]interface{}) Body {
	return Body{Kind: KindMessage, Message: &Message{Body: text, Extra: extra}}
}

// ExceptionBody extracts a single error into a Body carrying one Trace.
func ExceptionBody(err error) Body {
	return Body{Kind: KindTrace, Trace: traceFromError(err)}
}

// ExceptionChainBody extracts a chain of errors (outermost first) into a Body
// carrying a trace_chain, the shape used when an error wraps another.
func ExceptionChainBody(errs []error) Body {
	chain := make([]Trace, 0, len(errs))
	for _, e := range errs {
		chain = append(chain, *traceFromError(e))
	}
	return Body{Kind: KindTraceChain, TraceChain: chain}
}

// CrashReport builds a Body carrying a preformatted crash report string.
func CrashReport(raw string) Body {
	return Body{Kind: KindCrashReport, CrashRpt: &CrashReportBody{Raw: raw}}
}

// FromObject classifies an arbitrary caller-supplied object into the
// appropriate Body variant: errors become Exception, []error becomes
// ExceptionChain, strings become Message, a map[string]interface{} becomes a
// message with an empty body and the map as Extra, and everything else
// becomes an Arbitrary message with the object folded into Extra under
// "value".
func FromObject(obj interface{}) Body {
	switch v := obj.(type) {
	case error:
		return ExceptionBody(v)
	case []error:
		return ExceptionChainBody(v)
	case string:
		return MessageBody(v, nil)
	case map[string]interface{}:
		return MessageBody("", v)
	default:
		typeName := "<nil>"
		if obj != nil {
			typeName = reflect.TypeOf(obj).String()
		}
		return MessageBody(fmt.Sprintf("%v", v), map[string]interface{}{
			"value": v,
			"type":  typeName,
		})
	}
}

func traceFromError(err error) *Trace {
	t := &Trace{}
	t.Exception.Class = reflect.TypeOf(err).String()
	t.Exception.Message = err.Error()

	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		t.Frames = append(t.Frames, Frame{Filename: f.File, Lineno: f.Line, Method: f.Function})
		if !more {
			break
		}
	}
	return t
}

// Request mirrors the HTTP request context a caller may attach (§1: "HTTP
// request context").
type Request struct {
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	UserIP  string            `json:"user_ip,omitempty"`
}

// Server describes the reporting process/host (§3 Config.Server).
type Server struct {
	Host   string `json:"host,omitempty"`
	Root   string `json:"root,omitempty"`
	Branch string `json:"branch,omitempty"`
	Code   string `json:"code_version,omitempty"`
}

// Person identifies the end user associated with a report (§3 Config.Person).
type Person struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Client describes the reporting SDK (§6 data.client, data.notifier).
type Client struct {
	Notifier struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"notifier"`
}

// Data is the full `data` object of the wire protocol (§6).
type Data struct {
	Environment string                 `json:"environment"`
	Level       telemetry.Level        `json:"level"`
	Timestamp   int64                  `json:"timestamp"`
	Platform    string                 `json:"platform"`
	Language    string                 `json:"language"`
	Notifier    map[string]string      `json:"notifier"`
	Body        Body                   `json:"body"`
	Server      *Server                `json:"server,omitempty"`
	Person      *Person                `json:"person,omitempty"`
	Client      *Client                `json:"client,omitempty"`
	Custom      map[string]interface{} `json:"custom,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Title       string                 `json:"title,omitempty"`
	UUID        string                 `json:"uuid"`
	Context     string                 `json:"context,omitempty"`
	CodeVersion string                 `json:"code_version,omitempty"`
	Framework   string                 `json:"framework,omitempty"`
	Request     *Request               `json:"request,omitempty"`
	Telemetry   []telemetry.Item       `json:"telemetry,omitempty"`
}

const (
	notifierName    = "beacon-go"
	notifierVersion = "1.0.0"
	platform        = "go"
	language        = "go"
)

// New builds a Data DTO for one report. The fingerprint is derived from the
// level, the exception class and the top frame's method for a trace body, or
// from the level and the outermost exception class for a trace chain,
// matching the common notifier convention of grouping by error site
// (SPEC_FULL §C.4). Message and crash-report bodies get no fingerprint.
func New(env string, level telemetry.Level, b Body, custom map[string]interface{}) *Data {
	d := &Data{
		Environment: env,
		Level:       level,
		Timestamp:   time.Now().Unix(),
		Platform:    platform,
		Language:    language,
		Notifier:    map[string]string{"name": notifierName, "version": notifierVersion},
		Body:        b,
		Custom:      custom,
		UUID:        uuid.NewString(),
	}
	d.Fingerprint = defaultFingerprint(level, b)
	d.Title = defaultTitle(b)
	return d
}

func defaultFingerprint(level telemetry.Level, b Body) string {
	switch b.Kind {
	case KindTrace:
		if b.Trace != nil {
			top := ""
			if len(b.Trace.Frames) > 0 {
				top = b.Trace.Frames[0].Method
			}
			return fmt.Sprintf("%s:%s:%s", level, b.Trace.Exception.Class, top)
		}
	case KindTraceChain:
		if len(b.TraceChain) > 0 {
			return fmt.Sprintf("%s:%s", level, b.TraceChain[0].Exception.Class)
		}
	}
	return ""
}

func defaultTitle(b Body) string {
	switch b.Kind {
	case KindMessage:
		if b.Message != nil {
			return b.Message.Body
		}
	case KindTrace:
		if b.Trace != nil {
			return fmt.Sprintf("%s: %s", b.Trace.Exception.Class, b.Trace.Exception.Message)
		}
	case KindTraceChain:
		if len(b.TraceChain) > 0 {
			return fmt.Sprintf("%s: %s", b.TraceChain[0].Exception.Class, b.TraceChain[0].Exception.Message)
		}
	case KindCrashReport:
		return "crash report"
	}
	return ""
}
