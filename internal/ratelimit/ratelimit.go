// Package ratelimit is a per-IP fixed-window limiter for the sensitive auth
// flows (signup, login, email verification, password reset, Discord linking).
// Buckets live in process memory; limits are deliberately coarse.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mkcommunity/registry/internal/problem"
)

const (
	burstPerMinute = 3
	burstPerHour   = 10
)

type window struct {
	limit  int
	period time.Duration
	cache  *gocache.Cache
}

// Limiter enforces both windows; a request must pass every window to proceed.
type Limiter struct {
	mu      sync.Mutex
	windows []*window
}

func New() *Limiter {
	return &Limiter{windows: []*window{
		{limit: burstPerMinute, period: time.Minute, cache: gocache.New(time.Minute, time.Minute*5)},
		{limit: burstPerHour, period: time.Hour, cache: gocache.New(time.Hour, time.Hour*2)},
	}}
}

type bucket struct {
	count   int
	started time.Time
}

// Check consumes one slot for the address, returning a rate-limited problem
// carrying the seconds until the tightest exhausted window resets.
func (l *Limiter) Check(address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	// Find the first exhausted window before consuming anything so a denied
	// request does not burn slots.
	for _, win := range l.windows {
		if entry, found := win.cache.Get(address); found {
			state, ok := entry.(*bucket)
			if ok && state.count >= win.limit {
				retryAfter := state.started.Add(win.period).Sub(now)
				if retryAfter < time.Second {
					retryAfter = time.Second
				}

				return problem.RateLimited(retryAfter)
			}
		}
	}

	for _, win := range l.windows {
		entry, found := win.cache.Get(address)
		if !found {
			win.cache.Set(address, &bucket{count: 1, started: now}, win.period)

			continue
		}

		if state, ok := entry.(*bucket); ok {
			state.count++
		}
	}

	return nil
}

// Key builds a limiter key scoped to a flow so signup attempts do not consume
// the login budget.
func Key(flow string, address string) string {
	return fmt.Sprintf("%s:%s", flow, address)
}
