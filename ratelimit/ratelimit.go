// Package ratelimit paces article fetches per domain: a jittered minimum
// delay between requests, a sliding hourly cap, and manual or 403-escalated
// blocks.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/quay/zlog"
)

// Defaults.
const (
	DefaultMinDelay      = 2 * time.Second
	DefaultMaxDelay      = 5 * time.Second
	DefaultHourlyCap     = 10
	Default403Threshold  = 3
	Default403BlockSpan  = 24 * time.Hour
	DefaultAdvisoryBlock = time.Hour
)

const window = time.Hour

// Limiter tracks per-domain fetch state. Safe for concurrent use; the
// producer owns it, but nothing breaks if another task looks in.
type Limiter struct {
	mu sync.Mutex
	// now is replaceable for tests.
	now     func() time.Time
	jitter  func(min, max time.Duration) time.Duration
	domains map[string]*domainState

	minDelay  time.Duration
	maxDelay  time.Duration
	hourlyCap int
}

type domainState struct {
	lastFetch time.Time
	// fetches is the sliding window of successful fetch times within the
	// last hour.
	fetches []time.Time
	// denials is the sliding window of 403 responses within the last hour.
	denials    []time.Time
	blockUntil time.Time
	permanent  bool
}

// Option adjusts a Limiter.
type Option func(*Limiter)

// WithDelays sets the jittered inter-fetch delay bounds.
func WithDelays(min, max time.Duration) Option {
	return func(l *Limiter) {
		l.minDelay, l.maxDelay = min, max
	}
}

// WithHourlyCap sets the per-domain fetches-per-hour cap.
func WithHourlyCap(n int) Option {
	return func(l *Limiter) { l.hourlyCap = n }
}

// New returns a Limiter with the default pacing.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now: time.Now,
		jitter: func(min, max time.Duration) time.Duration {
			if max <= min {
				return min
			}
			return min + time.Duration(rand.Int63n(int64(max-min)))
		},
		domains:   make(map[string]*domainState),
		minDelay:  DefaultMinDelay,
		maxDelay:  DefaultMaxDelay,
		hourlyCap: DefaultHourlyCap,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) state(domain string) *domainState {
	d, ok := l.domains[domain]
	if !ok {
		d = &domainState{}
		l.domains[domain] = d
	}
	return d
}

func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// CanFetch reports whether a fetch from domain is currently allowed: not
// blocked, and under the hourly cap.
func (l *Limiter) CanFetch(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	d := l.state(domain)
	if d.permanent {
		return false
	}
	if now.Before(d.blockUntil) {
		return false
	}
	d.fetches = trim(d.fetches, now.Add(-window))
	return len(d.fetches) < l.hourlyCap
}

// Wait sleeps until a jittered delay has passed since the domain's last
// fetch. Returns early with the context's error on cancellation.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	d := l.state(domain)
	delay := l.jitter(l.minDelay, l.maxDelay)
	var sleep time.Duration
	if !d.lastFetch.IsZero() {
		if since := l.now().Sub(d.lastFetch); since < delay {
			sleep = delay - since
		}
	}
	l.mu.Unlock()
	if sleep <= 0 {
		return nil
	}
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Record notes a fetch attempt's outcome. Successes count against the
// hourly cap; every attempt moves the last-fetch time.
func (l *Limiter) Record(domain string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	d := l.state(domain)
	d.lastFetch = now
	if ok {
		d.fetches = trim(append(d.fetches, now), now.Add(-window))
	}
}

// Record403 notes an HTTP 403 from the domain. Three within an hour
// escalate to a 24 hour block.
func (l *Limiter) Record403(ctx context.Context, domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	d := l.state(domain)
	d.lastFetch = now
	d.denials = trim(append(d.denials, now), now.Add(-window))
	if len(d.denials) < Default403Threshold {
		return
	}
	d.denials = nil
	d.blockUntil = now.Add(Default403BlockSpan)
	zlog.Info(ctx).
		Str("domain", domain).
		Time("until", d.blockUntil).
		Msg("domain blocked after repeated 403s")
}

// Block installs a temporary block on the domain.
func (l *Limiter) Block(domain string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(domain)
	if until := l.now().Add(d); until.After(st.blockUntil) {
		st.blockUntil = until
	}
}

// BlockForever blocks the domain for the life of the process. Blocks are
// never persisted.
func (l *Limiter) BlockForever(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(domain).permanent = true
}
