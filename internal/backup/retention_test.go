package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeSet(created time.Time, size int64) snapshotSet {
	name := created.UTC().Format(setTimeFormat)

	return snapshotSet{
		name:    name,
		created: created.UTC(),
		size:    size,
		keys:    []string{name + "/main_db.db"},
	}
}

func setNames(sets []snapshotSet) []string {
	names := make([]string, 0, len(sets))
	for _, set := range sets {
		names = append(names, set.name)
	}

	return names
}

func TestRetentionKeepsRecentSets(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Hourly sets from the last two days, newest first.
	var sets []snapshotSet
	for hour := range 48 {
		sets = append(sets, makeSet(now.Add(-time.Duration(hour)*time.Hour), 1<<20))
	}

	require.Empty(t, selectDoomed(sets, now), "nothing younger than a week is pruned")
}

func TestRetentionCollapsesOldDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	oldDay := now.AddDate(0, 0, -10)

	sets := []snapshotSet{
		makeSet(now, 1<<20),
		makeSet(oldDay.Add(6*time.Hour), 1<<20),
		makeSet(oldDay.Add(3*time.Hour), 1<<20),
		makeSet(oldDay, 1<<20),
	}

	doomed := selectDoomed(sets, now)

	// The newest set of the old day survives; its siblings go.
	require.Equal(t, []string{
		oldDay.Add(3 * time.Hour).Format(setTimeFormat),
		oldDay.Format(setTimeFormat),
	}, setNames(doomed))
}

func TestRetentionNewestSetSurvivesEverything(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// A single ancient, oversized set is still untouchable.
	sets := []snapshotSet{
		makeSet(now.AddDate(0, 0, -400), retentionBudget*2),
		makeSet(now.AddDate(0, 0, -401), 1<<20),
	}

	doomed := selectDoomed(sets, now)
	require.Equal(t, []string{sets[1].name}, setNames(doomed),
		"only the older set may be evicted for budget")
}

func TestRetentionBudgetEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Three old daily sets plus a fresh one; together they bust the budget
	// twice over.
	sets := []snapshotSet{
		makeSet(now, 1<<20),
		makeSet(now.AddDate(0, 0, -20), retentionBudget/2),
		makeSet(now.AddDate(0, 0, -21), retentionBudget/2),
		makeSet(now.AddDate(0, 0, -22), retentionBudget),
	}

	doomed := selectDoomed(sets, now)
	names := setNames(doomed)

	require.Contains(t, names, sets[3].name, "the oldest set is evicted first")
	require.NotContains(t, names, sets[0].name)

	// Within the keep-all window nothing is evicted regardless of size.
	fresh := []snapshotSet{
		makeSet(now, retentionBudget),
		makeSet(now.Add(-time.Hour), retentionBudget),
	}
	require.Empty(t, selectDoomed(fresh, now))
}
