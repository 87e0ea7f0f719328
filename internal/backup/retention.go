package backup

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/pkg/log"
)

const (
	retentionKeepAll = time.Hour * 24 * 7
	retentionBudget  = int64(100) << 30
)

// CleanupJob enforces tiered retention over snapshot sets: everything younger
// than a week is kept, older days collapse to their newest set, and the whole
// bucket is bounded by a size budget. The newest set is never deleted.
type CleanupJob struct {
	Store objstore.Store
}

func (j *CleanupJob) Name() string { return "backup_cleanup" }

func (j *CleanupJob) Delay() time.Duration { return time.Hour * 24 }

type snapshotSet struct {
	name    string
	created time.Time
	size    int64
	keys    []string
}

func (j *CleanupJob) Run(ctx context.Context) error {
	objects, errList := j.Store.ListObjects(ctx, objstore.BucketDBBackup)
	if errList != nil {
		return errList
	}

	sets := groupSets(objects)
	if len(sets) <= 1 {
		return nil
	}

	for _, doomed := range selectDoomed(sets, timeNow()) {
		slog.Info("Pruning snapshot set",
			slog.String("set", doomed.name), slog.Int64("size", doomed.size))

		for _, key := range doomed.keys {
			if errDelete := j.Store.DeleteObject(ctx, objstore.BucketDBBackup, key); errDelete != nil {
				slog.Error("Failed to delete snapshot object",
					slog.String("key", key), log.ErrAttr(errDelete))
			}
		}
	}

	return nil
}

func groupSets(objects []objstore.Object) []snapshotSet {
	byName := map[string]*snapshotSet{}

	for _, object := range objects {
		prefix, _, found := strings.Cut(object.Key, "/")
		if !found {
			continue
		}

		created, errParse := time.Parse(setTimeFormat, prefix)
		if errParse != nil {
			continue
		}

		entry, exists := byName[prefix]
		if !exists {
			entry = &snapshotSet{name: prefix, created: created.UTC()}
			byName[prefix] = entry
		}

		entry.size += object.Size
		entry.keys = append(entry.keys, object.Key)
	}

	sets := make([]snapshotSet, 0, len(byName))
	for _, entry := range byName {
		sets = append(sets, *entry)
	}

	// Newest first.
	sort.Slice(sets, func(i, j int) bool { return sets[i].created.After(sets[j].created) })

	return sets
}

// selectDoomed returns the sets to delete, assuming sets are sorted newest
// first and len(sets) > 1.
func selectDoomed(sets []snapshotSet, now time.Time) []snapshotSet {
	var (
		doomed  []snapshotSet
		kept    []snapshotSet
		seenDay = map[string]bool{}
	)

	for idx, set := range sets {
		age := now.Sub(set.created)

		switch {
		case idx == 0 || age <= retentionKeepAll:
			kept = append(kept, set)
		default:
			day := set.created.Format("2006-01-02")
			if seenDay[day] {
				doomed = append(doomed, set)
			} else {
				seenDay[day] = true
				kept = append(kept, set)
			}
		}
	}

	var total int64
	for _, set := range kept {
		total += set.size
	}

	// Oldest kept sets go first when over budget, but only ones already past
	// the keep-all window.
	for idx := len(kept) - 1; idx > 0 && total > retentionBudget; idx-- {
		set := kept[idx]
		if now.Sub(set.created) <= retentionKeepAll {
			break
		}

		doomed = append(doomed, set)
		total -= set.size
	}

	return doomed
}
