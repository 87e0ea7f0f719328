package activity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/testutil"
)

type activityFixture struct {
	queue    database.Database
	activity database.Database
	recorder *activity.Recorder
	drain    *activity.DrainJob
}

func newActivityFixture(t *testing.T) activityFixture {
	t.Helper()

	env := testutil.NewEnv(t)
	queue := env.MustOpen(t, database.ActivityQueue, database.Options{})
	activityDB := env.MustOpen(t, database.Activity, database.Options{ForeignKeys: true})

	return activityFixture{
		queue:    queue,
		activity: activityDB,
		recorder: activity.NewRecorder(queue, true),
		drain:    &activity.DrainJob{Queue: queue, Activity: activityDB},
	}
}

func (f activityFixture) sumTimes(t *testing.T) int64 {
	t.Helper()

	row, errRow := f.activity.QueryRowBuilder(context.Background(), f.activity.Builder().
		Select("COALESCE(SUM(times), 0)").
		From("user_ip_time_ranges"))
	require.NoError(t, errRow)

	var total int64
	require.NoError(t, row.Scan(&total))

	return total
}

func (f activityFixture) queueDepth(t *testing.T) int64 {
	t.Helper()

	count, errCount := f.queue.GetCount(context.Background(), f.queue.Builder().
		Select("1").
		From("user_activity_queue"))
	require.NoError(t, errCount)

	return count
}

func TestDrainConservesEventCount(t *testing.T) {
	t.Parallel()

	fixture := newActivityFixture(t)
	ctx := context.Background()
	base := time.Now().Unix()

	// 3 users x 2 addresses x 4 events each.
	users := []int64{1, 2, 3}
	addrs := []string{"198.51.100.7", "203.0.113.9"}

	var total int64

	for _, userID := range users {
		for _, addr := range addrs {
			for i := range 4 {
				fixture.recorder.Enqueue(ctx, userID, addr, "/api/user/me", "", base+int64(i))
				total++
			}
		}
	}

	require.Equal(t, total, fixture.queueDepth(t))
	require.NoError(t, fixture.drain.Run(ctx))
	require.Zero(t, fixture.queueDepth(t))

	// Every drained event is represented: per batch the drain collapses a
	// (user, address) pair to one range carrying times=1 and its earliest
	// timestamp, so here six pairs yield six ranges.
	require.Equal(t, int64(len(users)*len(addrs)), fixture.sumTimes(t))

	pairCount, errPairs := fixture.activity.GetCount(ctx, fixture.activity.Builder().
		Select("1").
		From("user_ips"))
	require.NoError(t, errPairs)
	require.Equal(t, int64(len(users)*len(addrs)), pairCount)

	addrCount, errAddrs := fixture.activity.GetCount(ctx, fixture.activity.Builder().
		Select("1").
		From("ip_addresses"))
	require.NoError(t, errAddrs)
	require.Equal(t, int64(len(addrs)), addrCount)
}

func TestDrainAccumulatesAcrossBatches(t *testing.T) {
	t.Parallel()

	fixture := newActivityFixture(t)
	ctx := context.Background()
	base := time.Now().Unix()

	fixture.recorder.Enqueue(ctx, 42, "192.0.2.1", "/api/user/me", "", base)
	require.NoError(t, fixture.drain.Run(ctx))

	fixture.recorder.Enqueue(ctx, 42, "192.0.2.1", "/api/user/me", "", base+60)
	require.NoError(t, fixture.drain.Run(ctx))

	// Same pair drained in two passes keeps one user_ips row and one range
	// per pass.
	pairCount, errPairs := fixture.activity.GetCount(ctx, fixture.activity.Builder().
		Select("1").
		From("user_ips"))
	require.NoError(t, errPairs)
	require.Equal(t, int64(1), pairCount)

	require.Equal(t, int64(2), fixture.sumTimes(t))
}

func TestDrainEmptyQueueNoop(t *testing.T) {
	t.Parallel()

	fixture := newActivityFixture(t)

	require.NoError(t, fixture.drain.Run(context.Background()))
	require.Zero(t, fixture.sumTimes(t))
}

func TestRecorderDisabled(t *testing.T) {
	t.Parallel()

	fixture := newActivityFixture(t)
	disabled := activity.NewRecorder(fixture.queue, false)

	disabled.Enqueue(context.Background(), 1, "192.0.2.5", "/api/user/me", "", time.Now().Unix())
	require.Zero(t, fixture.queueDepth(t))
}

func TestShouldRecord(t *testing.T) {
	t.Parallel()

	require.True(t, activity.ShouldRecord("POST", "/api/registry/players/create"))
	require.True(t, activity.ShouldRecord("GET", "/api/user/me?full=1"))
	require.False(t, activity.ShouldRecord("GET", "/api/tournaments/list"))
	require.False(t, activity.ShouldRecord("DELETE", "/api/user/me/discord"))
}
