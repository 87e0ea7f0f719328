package cmdlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
)

const (
	// SegmentSize is the fixed number of entries per archived segment.
	SegmentSize = 1000

	lastIDKey = "lastid"
	indexKey  = "index.json"
)

var (
	ErrIndexCorrupt = errors.New("command log index unreadable")
	ErrBucketGap    = errors.New("command log bucket gap")
)

// IndexEntry records one archived segment in commandlog/index.json.
type IndexEntry struct {
	FileName string `json:"file_name"`
	FromID   int64  `json:"from_id"`
	Created  int64  `json:"created"`
}

// ArchiveJob copies unarchived command_log rows into fixed-size object-store
// segments and advances commandlog/lastid.
type ArchiveJob struct {
	DB    database.Database
	Store objstore.Store
}

func (j *ArchiveJob) Name() string         { return "commandlog_archive" }
func (j *ArchiveJob) Delay() time.Duration { return 5 * time.Minute }

func (j *ArchiveJob) Run(ctx context.Context) error {
	return Archive(ctx, j.DB, j.Store)
}

// Archive performs one archival pass. Exposed for tests and the manual admin
// trigger.
func Archive(ctx context.Context, db database.Database, store objstore.Store) error {
	lastID, errLast := readLastID(ctx, store)
	if errLast != nil {
		return errLast
	}

	entries, errEntries := unarchivedEntries(ctx, db, lastID)
	if errEntries != nil {
		return errEntries
	}

	if len(entries) == 0 {
		return nil
	}

	index, errIndex := readIndex(ctx, store)
	if errIndex != nil {
		return errIndex
	}

	buckets := groupByBucket(entries)

	for _, bucket := range buckets {
		var errWrite error

		index, errWrite = writeBucket(ctx, store, index, bucket)
		if errWrite != nil {
			return errWrite
		}
	}

	if errPutIndex := putJSON(ctx, store, indexKey, index); errPutIndex != nil {
		return errPutIndex
	}

	newLast := entries[len(entries)-1].ID

	return store.PutObject(ctx, objstore.BucketCommandLog, lastIDKey,
		[]byte(strconv.FormatInt(newLast, 10)), "")
}

func readLastID(ctx context.Context, store objstore.Store) (int64, error) {
	body, errGet := store.GetObject(ctx, objstore.BucketCommandLog, lastIDKey)
	if errGet != nil {
		return 0, errGet
	}

	if body == nil {
		return -1, nil
	}

	lastID, errParse := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if errParse != nil {
		return 0, errors.Join(errParse, ErrIndexCorrupt)
	}

	return lastID, nil
}

func readIndex(ctx context.Context, store objstore.Store) ([]IndexEntry, error) {
	body, errGet := store.GetObject(ctx, objstore.BucketCommandLog, indexKey)
	if errGet != nil {
		return nil, errGet
	}

	if body == nil {
		return nil, nil
	}

	var index []IndexEntry
	if errDecode := json.Unmarshal(body, &index); errDecode != nil {
		return nil, errors.Join(errDecode, ErrIndexCorrupt)
	}

	return index, nil
}

func unarchivedEntries(ctx context.Context, db database.Database, lastID int64) ([]Entry, error) {
	rows, errQuery := db.QueryBuilder(ctx, db.Builder().
		Select("id", "type", "data", "timestamp").
		From("command_log").
		Where(sq.Gt{"id": lastID}).
		OrderBy("id"))
	if errQuery != nil {
		return nil, database.DBErr(errQuery)
	}

	defer func() { _ = rows.Close() }()

	var entries []Entry

	for rows.Next() {
		var entry Entry
		if errScan := rows.Scan(&entry.ID, &entry.Type, &entry.Data, &entry.Timestamp); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}

// groupByBucket splits ascending entries into runs sharing id div SegmentSize.
func groupByBucket(entries []Entry) [][]Entry {
	var (
		buckets [][]Entry
		current []Entry
	)

	for _, entry := range entries {
		if len(current) > 0 && entry.ID/SegmentSize != current[0].ID/SegmentSize {
			buckets = append(buckets, current)
			current = nil
		}

		current = append(current, entry)
	}

	if len(current) > 0 {
		buckets = append(buckets, current)
	}

	return buckets
}

func writeBucket(ctx context.Context, store objstore.Store, index []IndexEntry, bucket []Entry) ([]IndexEntry, error) {
	fromID := bucket[0].ID / SegmentSize * SegmentSize

	// Existing segment for this bucket gets extended.
	for _, indexed := range index {
		if indexed.FromID != fromID {
			continue
		}

		existing, errRead := readSegment(ctx, store, indexed.FileName)
		if errRead != nil {
			return nil, errRead
		}

		if errPut := putJSON(ctx, store, indexed.FileName, append(existing, bucket...)); errPut != nil {
			return nil, errPut
		}

		return index, nil
	}

	// Minting a new segment requires the predecessor bucket to be the latest
	// indexed one (or an empty index for the first bucket). Anything else
	// means ids were lost.
	if len(index) == 0 {
		if fromID != 0 {
			return nil, fmt.Errorf("%w: first bucket starts at %d", ErrBucketGap, fromID)
		}
	} else if latest := index[len(index)-1].FromID; latest+SegmentSize != fromID {
		return nil, fmt.Errorf("%w: latest indexed %d, new bucket %d", ErrBucketGap, latest, fromID)
	}

	created := bucket[0].Timestamp
	fileName := fmt.Sprintf("%s_%d.json", time.Unix(created, 0).UTC().Format("2006-01-02_15-04-05"), fromID)

	if errPut := putJSON(ctx, store, fileName, bucket); errPut != nil {
		return nil, errPut
	}

	return append(index, IndexEntry{FileName: fileName, FromID: fromID, Created: created}), nil
}

func readSegment(ctx context.Context, store objstore.Store, fileName string) ([]Entry, error) {
	body, errGet := store.GetObject(ctx, objstore.BucketCommandLog, fileName)
	if errGet != nil {
		return nil, errGet
	}

	if body == nil {
		return nil, fmt.Errorf("%w: missing segment %s", ErrIndexCorrupt, fileName)
	}

	var entries []Entry
	if errDecode := json.Unmarshal(body, &entries); errDecode != nil {
		return nil, errors.Join(errDecode, ErrIndexCorrupt)
	}

	return entries, nil
}

func putJSON(ctx context.Context, store objstore.Store, key string, value any) error {
	body, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return errMarshal //nolint:wrapcheck
	}

	return store.PutObject(ctx, objstore.BucketCommandLog, key, body, "")
}
