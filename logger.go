package beacon

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sanjaysingh/beacon-go/internal/body"
	"github.com/sanjaysingh/beacon-go/internal/client"
	"github.com/sanjaysingh/beacon-go/internal/config"
	"github.com/sanjaysingh/beacon-go/internal/controller"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/payload"
	"github.com/sanjaysingh/beacon-go/internal/queue"
	"github.com/sanjaysingh/beacon-go/internal/scrub"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
	"github.com/sanjaysingh/beacon-go/internal/worker"
)

// levelRank orders severities from least to most severe so LogLevel can act
// as a minimum-severity threshold (§3 Config.LogLevel).
var levelRank = map[telemetry.Level]int{
	telemetry.LevelDebug:    0,
	telemetry.LevelInfo:     1,
	telemetry.LevelWarning:  2,
	telemetry.LevelError:    3,
	telemetry.LevelCritical: 4,
}

// Logger is one configured reporting pipeline: its own queue, worker pool,
// and scrubber, all driven by a shared Controller and EventBus (§2).
//
// cfg/scr/threshold are guarded by cfgMu rather than being plain fields,
// because Reconfigure can swap them from a caller goroutine while the worker
// pool goroutines concurrently read them in build/enqueueReport (§3
// "Reconfiguration is atomic with respect to in-flight payloads").
type Logger struct {
	name string
	ctrl *controller.Controller
	bus  *eventbus.Bus
	q    *queue.Queue
	pool *worker.Pool
	log  *zap.Logger

	cfgMu     sync.RWMutex
	cfg       *config.Config
	scr       *scrub.Scrubber
	threshold int
}

// current returns a consistent snapshot of cfg/scr/threshold under cfgMu.
func (l *Logger) current() (*config.Config, *scrub.Scrubber, int) {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.cfg, l.scr, l.threshold
}

// New builds and registers a Logger named name against ctrl/bus. cfg is
// validated (§7 ConfigurationError) before anything is registered. zapLog may
// be nil, in which case a no-op logger is used.
func New(ctrl *controller.Controller, bus *eventbus.Bus, cfg *config.Config, name string, zapLog *zap.Logger) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "beacon: invalid configuration")
	}
	if zapLog == nil {
		zapLog = zap.NewNop()
	}

	proxy := client.ProxyKey{Address: cfg.ProxyAddress, User: cfg.ProxyUser, Password: cfg.ProxyPassword}
	q := ctrl.Register(name, cfg.AccessToken, cfg.EndPoint, cfg.ReportingQueueDepth,
		cfg.MaxReportsPerMinute, cfg.MaxItems, proxy, 0, cfg.Gzip, cfg.UserAgent)

	return &Logger{
		name:      name,
		cfg:       cfg,
		ctrl:      ctrl,
		bus:       bus,
		q:         q,
		pool:      worker.NewPool(worker.DefaultWorkers, worker.DefaultBufferSize),
		scr:       scrub.New(cfg.ScrubFields, cfg.ScrubWhitelistFields),
		log:       zapLog,
		threshold: thresholdFor(cfg),
	}, nil
}

func thresholdFor(cfg *config.Config) int {
	threshold, ok := levelRank[telemetry.Level(cfg.LogLevel)]
	if !ok {
		threshold = levelRank[telemetry.LevelDebug]
	}
	return threshold
}

// Reconfigure atomically applies newCfg to this Logger in place (§3
// "Reconfiguration is atomic with respect to in-flight payloads: the queue is
// flushed, the HTTP client reference is swapped, and NextDequeueTime is
// reset"): every payload currently queued is dropped with OutcomeAborted, a
// freshly pooled HTTP client matching newCfg's proxy settings is acquired,
// and the old one released, before cfg/scr/threshold are swapped so no
// report ever builds from a mix of old and new config. AccessToken is not
// mutable via Reconfigure: a token change is a new logger, not a
// reconfiguration of this one.
func (l *Logger) Reconfigure(newCfg *config.Config) error {
	if err := newCfg.Validate(); err != nil {
		return errors.Wrap(err, "beacon: invalid configuration")
	}
	curCfg, _, _ := l.current()
	if newCfg.AccessToken != curCfg.AccessToken {
		return errors.New("beacon: Reconfigure cannot change AccessToken; register a new Logger instead")
	}

	proxy := client.ProxyKey{Address: newCfg.ProxyAddress, User: newCfg.ProxyUser, Password: newCfg.ProxyPassword}
	if ok := l.ctrl.Reconfigure(l.name, newCfg.EndPoint, newCfg.MaxReportsPerMinute, newCfg.MaxItems, proxy, 0, newCfg.Gzip, newCfg.UserAgent); !ok {
		return errors.Errorf("beacon: logger %q is not registered with its controller", l.name)
	}

	l.cfgMu.Lock()
	l.cfg = newCfg
	l.scr = scrub.New(newCfg.ScrubFields, newCfg.ScrubWhitelistFields)
	l.threshold = thresholdFor(newCfg)
	l.cfgMu.Unlock()
	return nil
}

// Name returns this logger's identity, the key it is registered under with
// the Controller and the label attached to every event it emits.
func (l *Logger) Name() string { return l.name }

// Critical, Error, Warning, Info, and Debug submit a report at the named
// severity. obj is classified per body.FromObject: an error becomes an
// exception report, a string becomes a message, anything else becomes an
// arbitrary message with obj folded into Extra.
func (l *Logger) Critical(obj interface{}, custom map[string]interface{}) {
	l.Log(telemetry.LevelCritical, obj, custom)
}
func (l *Logger) Error(obj interface{}, custom map[string]interface{}) {
	l.Log(telemetry.LevelError, obj, custom)
}
func (l *Logger) Warning(obj interface{}, custom map[string]interface{}) {
	l.Log(telemetry.LevelWarning, obj, custom)
}
func (l *Logger) Info(obj interface{}, custom map[string]interface{}) {
	l.Log(telemetry.LevelInfo, obj, custom)
}
func (l *Logger) Debug(obj interface{}, custom map[string]interface{}) {
	l.Log(telemetry.LevelDebug, obj, custom)
}

// Log submits a report at the given level. It returns as soon as the report
// is accepted onto the worker pool's buffer — before body construction, user
// callbacks, or any network I/O have run (§4: "Log() never blocks").
func (l *Logger) Log(level telemetry.Level, obj interface{}, custom map[string]interface{}) {
	l.enqueueReport(level, obj, custom, nil, nil)
}

// enqueueReport is the shared path behind Log and BlockingLogger: it submits
// one action to the worker pool that builds the Data envelope, runs user
// callbacks with panic isolation, and enqueues the resulting Payload. sig and
// deadline, if non-nil, are attached to the Payload before it is enqueued so
// a blocking caller can await its terminal outcome (§5, §8.2).
func (l *Logger) enqueueReport(level telemetry.Level, obj interface{}, custom map[string]interface{}, sig *payload.Signal, deadline *time.Time) {
	cfg, _, threshold := l.current()
	if !cfg.Enabled {
		if sig != nil {
			sig.Release(payload.OutcomeAborted)
		}
		return
	}
	if levelRank[level] < threshold {
		if sig != nil {
			sig.Release(payload.OutcomeAborted)
		}
		return
	}

	l.pool.Submit(func() {
		l.build(level, obj, custom, sig, deadline)
	})
}

func (l *Logger) build(level telemetry.Level, obj interface{}, custom map[string]interface{}, sig *payload.Signal, deadline *time.Time) {
	// One consistent snapshot of cfg/scr for this report, even if Reconfigure
	// runs concurrently — a single report is never built from a mix of old
	// and new config.
	cfg, scr, _ := l.current()

	if l.safeCheckIgnore(cfg, level, obj) {
		if sig != nil {
			sig.Release(payload.OutcomeAborted)
		}
		return
	}

	b := body.FromObject(obj)
	scrubbed := scr.Scrub(custom)

	data := body.New(cfg.Environment, level, b, scrubbed)
	l.attachIdentity(cfg, data)
	l.safeTransform(cfg, data)

	raw, err := json.Marshal(data)
	if err != nil {
		l.log.Error("beacon: failed to serialize report", zap.Error(err), zap.String("logger", l.name))
		l.bus.Publish(eventbus.Event{
			Kind:       eventbus.KindInternalError,
			LoggerName: l.name,
			Err:        err,
			IntErrKind: eventbus.IntErrInternal,
			Context:    "report body failed to serialize",
		})
		if sig != nil {
			sig.Release(payload.OutcomeAborted)
		}
		return
	}
	raw = l.safeTruncate(cfg, raw)

	p := payload.New(cfg.AccessToken, json.RawMessage(raw))
	if deadline != nil {
		p = p.WithDeadline(*deadline)
	}
	if sig != nil {
		p = p.WithSignal(sig)
	}
	l.q.Enqueue(p)
}

func (l *Logger) attachIdentity(cfg *config.Config, d *body.Data) {
	if cfg.Server != (config.Server{}) {
		d.Server = &body.Server{
			Host:   cfg.Server.Host,
			Root:   cfg.Server.Root,
			Branch: cfg.Server.Branch,
			Code:   cfg.Server.CodeVersion,
		}
	}
	if person := personForPolicies(cfg); person != nil {
		d.Person = person
	}
}

func personForPolicies(cfg *config.Config) *body.Person {
	if len(cfg.PersonDataCollectionPolicies) == 0 {
		return nil
	}
	p := &body.Person{}
	any := false
	for _, policy := range cfg.PersonDataCollectionPolicies {
		switch policy {
		case config.PersonDataAll:
			p.ID, p.Username, p.Email = cfg.Person.ID, cfg.Person.Username, cfg.Person.Email
			any = true
		case config.PersonDataID:
			p.ID = cfg.Person.ID
			any = true
		case config.PersonDataUsername:
			p.Username = cfg.Person.Username
			any = true
		case config.PersonDataEmail:
			p.Email = cfg.Person.Email
			any = true
		}
	}
	if !any {
		return nil
	}
	return p
}

// safeCheckIgnore runs the user's CheckIgnore callback, if any, isolating any
// panic: an exception there is treated as "not ignored" so a broken callback
// never silently swallows a report (§7 UserCallbackError).
func (l *Logger) safeCheckIgnore(cfg *config.Config, level telemetry.Level, obj interface{}) (ignore bool) {
	if cfg.CheckIgnore == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			l.reportCallbackPanic("CheckIgnore", r)
			ignore = false
		}
	}()
	return cfg.CheckIgnore(string(level), obj)
}

// safeTransform runs the user's Transform callback, if any, isolating any
// panic: an exception leaves data untouched (treated as identity, §7
// UserCallbackError).
func (l *Logger) safeTransform(cfg *config.Config, d *body.Data) {
	if cfg.Transform == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.reportCallbackPanic("Transform", r)
		}
	}()
	cfg.Transform(d.Custom)
}

// safeTruncate runs the user's Truncate callback, if any, isolating any
// panic: an exception leaves body untouched (identity, §7 UserCallbackError).
func (l *Logger) safeTruncate(cfg *config.Config, body []byte) (out []byte) {
	out = body
	if cfg.Truncate == nil {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			l.reportCallbackPanic("Truncate", r)
			out = body
		}
	}()
	return cfg.Truncate(body)
}

func (l *Logger) reportCallbackPanic(which string, r interface{}) {
	l.log.Warn("beacon: user callback panicked", zap.String("callback", which), zap.Any("recover", r))
	l.bus.Publish(eventbus.Event{
		Kind:       eventbus.KindInternalError,
		LoggerName: l.name,
		IntErrKind: eventbus.IntErrUserCallback,
		Context:    which + " panicked: " + errors.Errorf("%v", r).Error(),
	})
}

// RecommendedTimeout estimates how long a blocking call against this logger
// should wait for the backlog of every queue on its Controller to drain at
// this logger's configured rate (§5).
func (l *Logger) RecommendedTimeout() time.Duration {
	return l.ctrl.RecommendedTimeout(l.name)
}

// Close stops this logger's worker pool and deregisters its queue from the
// shared Controller, flushing any pending payloads (§4.1 Flush).
func (l *Logger) Close() {
	l.pool.Close()
	l.ctrl.Deregister(l.name)
}
