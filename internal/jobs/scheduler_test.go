package jobs_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/testutil"
)

type countingJob struct {
	name  string
	delay time.Duration
	runs  atomic.Int64
	fail  bool
}

func (j *countingJob) Name() string         { return j.name }
func (j *countingJob) Delay() time.Duration { return j.delay }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)

	if j.fail {
		panic("boom")
	}

	return nil
}

func TestSchedulerSurvivesPanickingJob(t *testing.T) {
	t.Parallel()

	panicky := &countingJob{name: "panicky", delay: time.Millisecond, fail: true}
	steady := &countingJob{name: "steady", delay: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	jobs.NewScheduler(panicky, steady).Start(ctx)

	require.GreaterOrEqual(t, steady.runs.Load(), int64(2), "steady job keeps running")
	require.GreaterOrEqual(t, panicky.runs.Load(), int64(2), "panicking job is retried")
}

func TestSchedulerHonoursDelay(t *testing.T) {
	t.Parallel()

	slow := &countingJob{name: "slow", delay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	jobs.NewScheduler(slow).Start(ctx)

	require.Equal(t, int64(1), slow.runs.Load(), "a long delay job runs once and then waits")
}

func TestStateStoreRoundtrip(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	state := jobs.NewStateStore(db)
	ctx := context.Background()

	type cursor struct {
		Offset int64 `json:"offset"`
	}

	var loaded cursor

	found, errMissing := state.Get(ctx, "nonexistent", &loaded)
	require.NoError(t, errMissing)
	require.False(t, found)

	require.NoError(t, state.Update(ctx, "feed", cursor{Offset: 10}))
	require.NoError(t, state.Update(ctx, "feed", cursor{Offset: 25}))

	found, errGet := state.Get(ctx, "feed", &loaded)
	require.NoError(t, errGet)
	require.True(t, found)
	require.Equal(t, int64(25), loaded.Offset)
}
