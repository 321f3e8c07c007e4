package eventbus

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// wireEvent is the trimmed, JSON-stable shape published to NATS — Payload
// and Err are deliberately not serialized (they may carry large bodies or
// non-serializable values), matching the "fire-and-forget ops bridge" role
// this sink plays (SPEC_FULL §B).
type wireEvent struct {
	Kind        Kind              `json:"kind"`
	LoggerName  string            `json:"logger_name"`
	AccessToken string            `json:"access_token,omitempty"`
	Context     string            `json:"context,omitempty"`
	CommErrKind CommErrorKind     `json:"comm_err_kind,omitempty"`
	IntErrKind  InternalErrorKind `json:"int_err_kind,omitempty"`
	Result      *ResultSummary    `json:"result,omitempty"`
	At          int64             `json:"at"`
}

// NatsBridge republishes bus events onto a NATS subject for an out-of-process
// ops dashboard. It never blocks the tick thread: publish errors are logged
// and swallowed, exactly like any other event-bus subscriber (§4.6 "handlers
// must not block").
type NatsBridge struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

// NewNatsBridge wires a bridge against an already-connected *nats.Conn. The
// caller owns the connection's lifecycle.
func NewNatsBridge(conn *nats.Conn, subject string, log *zap.Logger) *NatsBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &NatsBridge{conn: conn, subject: subject, log: log}
}

// Handle is an eventbus.Handler that publishes e to the configured subject.
func (n *NatsBridge) Handle(e Event) {
	if n.conn == nil || n.conn.IsClosed() {
		return
	}
	w := wireEvent{
		Kind:        e.Kind,
		LoggerName:  e.LoggerName,
		AccessToken: e.AccessToken,
		Context:     e.Context,
		CommErrKind: e.CommErrKind,
		IntErrKind:  e.IntErrKind,
		Result:      e.Result,
		At:          time.Now().UnixMilli(),
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(w)
	if err != nil {
		n.log.Warn("nats bridge: marshal failed", zap.Error(err))
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.log.Warn("nats bridge: publish failed", zap.Error(err))
	}
}
