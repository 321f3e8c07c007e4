// Package ratelimit implements the per-access-token sliding-window counter
// (C3) and a supplementary process-wide egress governor.
//
// RateLimiterState (§3): window length 60s, a count of payloads dispatched
// within the current window, and a window-start timestamp. On each attempted
// dispatch: if now-windowStart >= 60s, reset; if count < max, allow; else
// defer. The token is only actually consumed once a dispatch reaches a
// terminal (dequeuing) outcome — see Limiter.Consume.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

// Window is the fixed sliding-window length (§3).
const Window = 60 * time.Second

// defaultStates bounds the access-token -> state map so a process that
// rotates through many distinct tokens over its lifetime doesn't grow that
// map without bound (SPEC_FULL §B).
const defaultStates = 4096

type tokenState struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Limiter tracks one RateLimiterState per access token.
type Limiter struct {
	states *lru.Cache // string -> *tokenState

	// governor is a process-wide soft cap layered underneath the per-token
	// window so a process registering many tokens can't open dispatch
	// attempts faster than the controller's tick can serialize them
	// (SPEC_FULL §B). It never causes a permanent failure, only an extra
	// short wait alongside the per-token NextDequeueTime.
	governor *rate.Limiter
}

// NewLimiter creates a Limiter. globalQPS <= 0 disables the process-wide
// governor (per-token windows still apply).
func NewLimiter(globalQPS float64) *Limiter {
	states, err := lru.New(defaultStates)
	if err != nil {
		// lru.New only fails for a non-positive size, which defaultStates
		// never is.
		panic(err)
	}
	l := &Limiter{states: states}
	if globalQPS > 0 {
		l.governor = rate.NewLimiter(rate.Limit(globalQPS), int(globalQPS)+1)
	}
	return l
}

func (l *Limiter) stateFor(token string) *tokenState {
	if v, ok := l.states.Get(token); ok {
		return v.(*tokenState)
	}
	st := &tokenState{}
	l.states.Add(token, st)
	return st
}

// Reserve consults the window for token without consuming a slot. allowed is
// true if a dispatch attempt may proceed now. If allowed is false, retryAt is
// the absolute time (windowStart + Window) at which the caller should set
// NextDequeueTime (§4.2 step 3).
func (l *Limiter) Reserve(token string, max int, now time.Time) (allowed bool, retryAt time.Time) {
	st := l.stateFor(token)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= Window {
		st.windowStart = now
		st.count = 0
	}

	if st.count < max {
		if l.governor != nil && !l.governor.Allow() {
			return false, now.Add(time.Second)
		}
		return true, time.Time{}
	}
	return false, st.windowStart.Add(Window)
}

// Consume records one dispatch against token's current window. Call this
// exactly once per terminal (dequeuing) outcome: success, application error,
// or permanent 4xx failure — never for a retried 429/5xx (§4.2 step 5, §8.4).
func (l *Limiter) Consume(token string, now time.Time) {
	st := l.stateFor(token)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= Window {
		st.windowStart = now
		st.count = 0
	}
	st.count++
}

// CountInWindow returns the current window's dispatch count for token,
// mostly useful for tests and diagnostics.
func (l *Limiter) CountInWindow(token string) int {
	st := l.stateFor(token)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}
