package cmdlog

import (
	"context"
	"fmt"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/objstore"
)

// Replay walks archived segments in index order starting at fromID and hands
// each entry to fn. Segment concatenation must reproduce a dense ascending id
// sequence; a gap aborts the replay.
func Replay(ctx context.Context, store objstore.Store, fromID int64, fn func(Entry) error) error {
	index, errIndex := readIndex(ctx, store)
	if errIndex != nil {
		return errIndex
	}

	expected := fromID

	for _, indexed := range index {
		if indexed.FromID+SegmentSize <= fromID {
			continue
		}

		entries, errRead := readSegment(ctx, store, indexed.FileName)
		if errRead != nil {
			return errRead
		}

		for _, entry := range entries {
			if entry.ID < fromID {
				continue
			}

			if entry.ID != expected {
				return fmt.Errorf("%w: expected id %d, segment %s has %d",
					ErrBucketGap, expected, indexed.FileName, entry.ID)
			}

			expected++

			if errFn := fn(entry); errFn != nil {
				return errFn
			}
		}
	}

	return nil
}

// ReplayCommands rehydrates each archived entry through the command registry
// and hands the reconstructed command to fn. Unknown type names fail the
// replay with an unsupported-log-type problem.
func ReplayCommands(ctx context.Context, store objstore.Store, fromID int64, fn func(command.Command) error) error {
	return Replay(ctx, store, fromID, func(entry Entry) error {
		cmd, errHydrate := command.Rehydrate(entry.Type, []byte(entry.Data))
		if errHydrate != nil {
			return errHydrate
		}

		return fn(cmd)
	})
}
