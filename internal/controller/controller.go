// Package controller implements the process-wide queue controller (C5): the
// single scheduler that ticks every queue on a fixed cadence, enforces the
// per-token rate limit, performs the (intentionally synchronous) HTTP POST,
// and fires outcomes onto the event bus. This is the heart of the delivery
// pipeline — every other package (queue, ratelimit, client, eventbus,
// payload, telemetry) exists to be driven from here.
//
// Grounded on the teacher's startHTTPLogger/logEntry goroutine
// (vishal7kumar-minio internal/logger/target/http/http.go), generalized from
// "one worker per Target" to "one ticking scheduler over every registered
// queue", since the reporting pipeline's dispatch must be globally
// serialized for the rate limiter and backoff state to mean anything
// process-wide rather than per-queue.
package controller

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sanjaysingh/beacon-go/internal/client"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/metrics"
	"github.com/sanjaysingh/beacon-go/internal/payload"
	"github.com/sanjaysingh/beacon-go/internal/queue"
	"github.com/sanjaysingh/beacon-go/internal/ratelimit"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// DefaultTick is the controller's fixed tick cadence (§4.2).
const DefaultTick = 250 * time.Millisecond

// minBackoff is the first non-zero backoff step after a transient failure;
// it then doubles each subsequent failure up to maxBackoff (§4.2 step 5).
const minBackoff = 1 * time.Second

// maxBackoff caps the exponential backoff applied after 5xx/transport
// failures (§4.2 step 5, §9).
const maxBackoff = 60 * time.Second

// defaultRetryAfter is used when a 429 response carries no Retry-After
// header (§6).
const defaultRetryAfter = 60 * time.Second

// dispatchTimeout bounds a single PostAsJson call so one hung endpoint can't
// stall the tick loop indefinitely.
const dispatchTimeout = 15 * time.Second

// wireEnvelope is the top-level JSON shape every report is POSTed as (§6,
// spec.md:108): the access token travels both in this envelope and in the
// X-Rollbar-Access-Token header, matching a Rollbar-compatible endpoint.
type wireEnvelope struct {
	AccessToken string      `json:"access_token"`
	Data        interface{} `json:"data"`
}

// queueEntry's delivery settings (endpoint, rate, cap, proxy) are guarded by
// their own mutex, separately from Controller.mu, because Reconfigure can
// mutate them from a caller goroutine concurrently with the tick goroutine
// reading them in processQueue/dispatch.
type queueEntry struct {
	q *queue.Queue

	settingsMu   sync.RWMutex
	endpoint     string
	maxPerMinute int
	maxItems     int // 0 means unbounded (§3 MaxItems)
	proxy        client.ProxyKey
}

func (e *queueEntry) settings() (endpoint string, maxPerMinute, maxItems int, proxy client.ProxyKey) {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.endpoint, e.maxPerMinute, e.maxItems, e.proxy
}

func (e *queueEntry) setSettings(endpoint string, maxPerMinute, maxItems int, proxy client.ProxyKey) {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	e.endpoint = endpoint
	e.maxPerMinute = maxPerMinute
	e.maxItems = maxItems
	e.proxy = proxy
}

func (e *queueEntry) proxyKey() client.ProxyKey {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.proxy
}

// Controller is the process-wide singleton scheduler. The zero value is not
// usable; construct with New.
type Controller struct {
	mu     sync.RWMutex
	queues map[string]*queueEntry

	pool    *client.Pool
	limiter *ratelimit.Limiter
	bus     *eventbus.Bus
	ring    *telemetry.Ring
	log     *zap.Logger
	metrics *metrics.Metrics

	// delivered counts successful deliveries across every queue this
	// Controller has ever dispatched for, since process start (§3 MaxItems:
	// "total successful deliveries since process start", spec.md:73).
	// maxItemsFired latches so the MaxItemsReached event fires once per
	// process, not once per queue.
	delivered     atomic.Int64
	maxItemsFired atomic.Bool

	tick time.Duration

	runOnce  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// New builds a Controller. tick <= 0 falls back to DefaultTick. The
// controller does not start ticking until the first queue is registered
// (§4: "started on first registration").
func New(bus *eventbus.Bus, ring *telemetry.Ring, limiter *ratelimit.Limiter, log *zap.Logger, tick time.Duration) *Controller {
	if tick <= 0 {
		tick = DefaultTick
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		queues:  make(map[string]*queueEntry),
		pool:    client.NewPool(),
		limiter: limiter,
		bus:     bus,
		ring:    ring,
		log:     log,
		tick:    tick,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Register creates and registers a queue for one logger, starting the
// controller's tick loop if this is the first registration. capacity <= 0
// uses queue.DefaultCapacity; maxItems <= 0 means unbounded (§3).
func (c *Controller) Register(name, accessToken, endpoint string, capacity int, maxPerMinute, maxItems int, proxy client.ProxyKey, timeout time.Duration, gzipBody bool, userAgent string) *queue.Queue {
	if timeout <= 0 {
		timeout = client.DefaultTimeout
	}
	httpClient := c.pool.Acquire(proxy, timeout)
	cl := client.New(httpClient, userAgent, gzipBody)

	q := queue.New(name, accessToken, capacity, cl, c.bus)
	entry := &queueEntry{q: q, endpoint: endpoint, maxPerMinute: maxPerMinute, maxItems: maxItems, proxy: proxy}

	c.mu.Lock()
	c.queues[name] = entry
	c.mu.Unlock()

	c.start()
	return q
}

// Deregister flushes and removes a logger's queue, releasing its pooled
// transport. If no queues remain, the tick loop is stopped.
func (c *Controller) Deregister(name string) {
	c.mu.Lock()
	entry, ok := c.queues[name]
	if ok {
		delete(c.queues, name)
	}
	remaining := len(c.queues)
	c.mu.Unlock()

	if !ok {
		return
	}
	entry.q.Flush()
	c.pool.Release(entry.proxyKey())

	if remaining == 0 {
		c.Stop()
	}
}

// Reconfigure atomically applies new delivery settings to an already
// registered queue in place (§3 "Reconfiguration is atomic with respect to
// in-flight payloads: the queue is flushed, the HTTP client reference is
// swapped, and NextDequeueTime is reset"). Reports ok=false if name is not
// registered. A new pooled client is acquired for proxy before the old one
// is released, so a proxy triple shared with another logger is never torn
// down mid-swap.
func (c *Controller) Reconfigure(name, endpoint string, maxPerMinute, maxItems int, proxy client.ProxyKey, timeout time.Duration, gzipBody bool, userAgent string) (ok bool) {
	c.mu.Lock()
	entry, found := c.queues[name]
	c.mu.Unlock()
	if !found {
		return false
	}

	if timeout <= 0 {
		timeout = client.DefaultTimeout
	}
	httpClient := c.pool.Acquire(proxy, timeout)
	cl := client.New(httpClient, userAgent, gzipBody)
	oldProxy := entry.proxyKey()

	entry.q.Flush()
	entry.q.UpdateClient(cl)
	entry.q.SetNextDequeueTime(time.Time{})
	entry.q.ResetBackoff()
	entry.setSettings(endpoint, maxPerMinute, maxItems, proxy)

	if oldProxy != proxy {
		c.pool.Release(oldProxy)
	}
	return true
}

func (c *Controller) start() {
	c.runOnce.Do(func() {
		go c.loop()
	})
}

// Stop halts the tick loop. Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Controller) loop() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.tickOnce(now)
		}
	}
}

func (c *Controller) tickOnce(now time.Time) {
	c.mu.RLock()
	entries := make([]*queueEntry, 0, len(c.queues))
	for _, e := range c.queues {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()
	if m != nil {
		for _, e := range entries {
			m.QueueDepth.WithLabelValues(e.q.Name()).Set(float64(e.q.Len()))
		}
	}

	for _, e := range entries {
		c.processQueue(now, e)
	}
}

func (c *Controller) incDispatched(logger string) {
	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()
	if m != nil {
		m.Dispatched.WithLabelValues(logger).Inc()
	}
}

func (c *Controller) incDropped(logger, reason string) {
	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()
	if m != nil {
		m.Dropped.WithLabelValues(logger, reason).Inc()
	}
}

func (c *Controller) incRateLimited(logger string) {
	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()
	if m != nil {
		m.RateLimited.WithLabelValues(logger).Inc()
	}
}

func (c *Controller) observeDispatchTime(started time.Time) {
	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()
	if m != nil {
		m.DispatchTime.Observe(time.Since(started).Seconds())
	}
}

func (c *Controller) processQueue(now time.Time, e *queueEntry) {
	// Step 1: deadline sweep — drop every expired head before anything else
	// is considered (§4.2 step 2).
	for {
		p, ok := e.q.Peek()
		if !ok || !p.Expired(now) {
			break
		}
		e.q.DropHead()
		p.Release(payload.OutcomeTimedOut)
		c.incDropped(e.q.Name(), "deadline")
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindInternalError,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			IntErrKind:  eventbus.IntErrPayloadTimeout,
			Context:     "payload exceeded its deadline before dispatch",
		})
	}

	// Step 2: readiness gate (§4.2 step 1) — backoff/rate-limit defer.
	if now.Before(e.q.NextDequeueTime()) {
		return
	}

	p, ok := e.q.Peek()
	if !ok {
		return
	}

	endpoint, maxPerMinute, maxItems, _ := e.settings()

	// Step 3: process-wide item cap — once the total successful deliveries
	// since process start reach MaxItems, drain without dispatching and
	// without consuming a rate-limit token (§3 MaxItems, spec.md:73: "total
	// successful deliveries since process start"). The counter is
	// process-wide on the Controller, not per-queue; each queue still uses
	// its own configured threshold.
	if maxItems > 0 && c.delivered.Load() >= int64(maxItems) {
		e.q.DropHead()
		p.Release(payload.OutcomeAborted)
		c.incDropped(e.q.Name(), "max_items")
		if !c.maxItemsFired.Swap(true) {
			c.bus.Publish(eventbus.Event{
				Kind:       eventbus.KindInternalError,
				LoggerName: e.q.Name(),
				IntErrKind: eventbus.IntErrMaxItemsReached,
				Context:    "MaxItems reached, further reports are dropped",
			})
		}
		return
	}

	// Step 4: rate gate (§4.2 step 3). Reserve never mutates the window; it
	// only decides whether a dispatch attempt may begin now.
	allowed, retryAt := c.limiter.Reserve(e.q.AccessToken(), maxPerMinute, now)
	if !allowed {
		e.q.SetNextDequeueTime(retryAt)
		c.incRateLimited(e.q.Name())
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCommunicationError,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			CommErrKind: eventbus.CommErrRateLimited,
			Context:     "per-token rate limit reached",
		})
		return
	}

	c.dispatch(now, e, p, endpoint)
}

func (c *Controller) dispatch(now time.Time, e *queueEntry, p *payload.Payload, endpoint string) {
	body, ok := p.CachedBody()
	if !ok {
		if _, attached := p.TelemetrySnapshot(); !attached {
			p.AttachTelemetry(c.ring.Snapshot())
		}
		serialized, err := json.Marshal(wireEnvelope{AccessToken: p.AccessToken, Data: p.Data})
		if err != nil {
			// A payload that cannot be serialized can never succeed; drop it
			// rather than spin forever retrying the same encode failure.
			e.q.DropHead()
			p.Release(payload.OutcomeAborted)
			c.bus.Publish(eventbus.Event{
				Kind:       eventbus.KindInternalError,
				LoggerName: e.q.Name(),
				Payload:    p,
				Err:        err,
				IntErrKind: eventbus.IntErrInternal,
				Context:    "payload body failed to serialize",
			})
			return
		}
		p.SetCachedBody(serialized)
		body = serialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	started := time.Now()
	cl := e.q.Client()
	result, err := cl.PostAsJson(ctx, endpoint, e.q.AccessToken(), body)
	c.observeDispatchTime(started)
	if err != nil {
		c.backoffAfterFailure(e)
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCommunicationError,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			Err:         err,
			CommErrKind: eventbus.CommErrTransport,
			Context:     "transport error, will retry with backoff",
		})
		return
	}

	switch {
	case result.StatusCode == 429:
		retryAfter := result.RetryAfter
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		e.q.SetNextDequeueTime(now.Add(retryAfter))
		c.incRateLimited(e.q.Name())
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCommunicationError,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			CommErrKind: eventbus.CommErrRateLimited,
			Context:     "server returned 429",
		})

	case result.StatusCode >= 500:
		c.backoffAfterFailure(e)
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCommunicationError,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			CommErrKind: eventbus.CommErrServer,
			Context:     "server returned 5xx",
		})

	case result.StatusCode >= 200 && result.StatusCode < 300:
		c.settle(now, e, p, result, true)

	default:
		// Other 4xx: permanent failure, dequeue and move on (§4.2 step 6).
		c.settle(now, e, p, result, false)
	}
}

// settle handles every outcome that dequeues the payload: 2xx success, 2xx
// application error, and permanent 4xx failure all consume a rate-limit
// token and reset backoff (§4.2 step 5, §8.4).
func (c *Controller) settle(now time.Time, e *queueEntry, p *payload.Payload, result *queue.Result, twoxx bool) {
	e.q.Dequeue()
	e.q.ResetBackoff()
	c.limiter.Consume(e.q.AccessToken(), now)
	if twoxx && result.Err == 0 {
		c.delivered.Inc()
	}

	summary := &eventbus.ResultSummary{StatusCode: result.StatusCode, Err: result.Err, Message: result.Message}

	if twoxx && result.Err == 0 {
		p.Release(payload.OutcomeDelivered)
		c.incDispatched(e.q.Name())
		c.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindCommunication,
			LoggerName:  e.q.Name(),
			AccessToken: e.q.AccessToken(),
			Payload:     p,
			Result:      summary,
			Context:     "delivered",
		})
		return
	}

	p.Release(payload.OutcomeAPIError)
	ctx := "application rejected the report"
	if !twoxx {
		ctx = "permanent client error"
		c.incDropped(e.q.Name(), "permanent_failure")
	}
	c.bus.Publish(eventbus.Event{
		Kind:        eventbus.KindAPIError,
		LoggerName:  e.q.Name(),
		AccessToken: e.q.AccessToken(),
		Payload:     p,
		Result:      summary,
		Context:     ctx,
	})
}

func (c *Controller) backoffAfterFailure(e *queueEntry) {
	cur := e.q.Backoff()
	next := cur * 2
	if next < minBackoff {
		next = minBackoff
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	e.q.SetBackoff(next)
	e.q.SetNextDequeueTime(time.Now().Add(next))
}

// RecommendedTimeout estimates how long a blocking caller (C8) should wait
// for every registered queue to drain at name's configured rate:
// ceil(sum of queue depths/maxPerMinute) minutes, plus one tick period of
// scheduling slack (§5 getRecommendedTimeout). Returns 0 if name is not
// registered.
func (c *Controller) RecommendedTimeout(name string) time.Duration {
	c.mu.RLock()
	e, ok := c.queues[name]
	entries := make([]*queueEntry, 0, len(c.queues))
	for _, qe := range c.queues {
		entries = append(entries, qe)
	}
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	depth := 0
	for _, qe := range entries {
		depth += qe.q.Len()
	}
	if depth == 0 {
		return c.tick
	}
	_, maxPerMinute, _, _ := e.settings()
	minutes := math.Ceil(float64(depth) / float64(maxPerMinute))
	return time.Duration(minutes)*time.Minute + c.tick
}

// Pool exposes the shared transport pool so a reconfigure can acquire a new
// client before releasing the old proxy key.
func (c *Controller) Pool() *client.Pool { return c.pool }

// SetMetrics attaches a collector set; subsequent ticks observe dispatch
// outcomes and queue depth through it. Passing nil disables metrics
// observation (the default).
func (c *Controller) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}
