package ratelimit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/ratelimit"
)

func TestLimiterMinuteWindow(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New()
	key := ratelimit.Key("login", "192.0.2.1")

	for range 3 {
		require.NoError(t, limiter.Check(key))
	}

	errLimited := limiter.Check(key)
	require.Error(t, errLimited)

	prob, isProblem := problem.As(errLimited)
	require.True(t, isProblem)
	require.Equal(t, 429, prob.Status)
}

func TestLimiterDeniedRequestsBurnNoSlots(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New()
	key := ratelimit.Key("signup", "192.0.2.2")

	for range 3 {
		require.NoError(t, limiter.Check(key))
	}

	// Hammering past the limit must not extend the hourly budget.
	for range 20 {
		require.Error(t, limiter.Check(key))
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New()

	for range 3 {
		require.NoError(t, limiter.Check(ratelimit.Key("login", "192.0.2.3")))
	}

	require.Error(t, limiter.Check(ratelimit.Key("login", "192.0.2.3")))

	// A different flow from the same address keeps its own budget, as does
	// the same flow from another address.
	require.NoError(t, limiter.Check(ratelimit.Key("signup", "192.0.2.3")))
	require.NoError(t, limiter.Check(ratelimit.Key("login", "192.0.2.4")))
}
