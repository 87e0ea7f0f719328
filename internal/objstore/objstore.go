// Package objstore is the object-store façade. Large blobs (tournament and
// series JSON, command-log segments, database backups, avatars, fingerprint
// dumps) live here rather than in the relational databases.
package objstore

import (
	"context"
	"errors"
)

var (
	ErrGet          = errors.New("failed to fetch object")
	ErrPut          = errors.New("failed to store object")
	ErrDelete       = errors.New("failed to delete object")
	ErrList         = errors.New("failed to list objects")
	ErrCreateBucket = errors.New("failed to create bucket")
)

// Buckets ensured on startup.
const (
	BucketTournaments  = "tournaments"
	BucketSeries       = "series"
	BucketTemplates    = "templates"
	BucketCommandLog   = "commandlog"
	BucketLegacy       = "mkcv1"
	BucketPosts        = "posts"
	BucketImages       = "images"
	BucketFingerprints = "fingerprints"
	BucketDBBackup     = "db-backup"
)

//nolint:gochecknoglobals
var FixedBuckets = []string{
	BucketTournaments, BucketSeries, BucketTemplates, BucketCommandLog,
	BucketLegacy, BucketPosts, BucketImages, BucketFingerprints, BucketDBBackup,
}

// Object is a listing entry. Size is needed by the backup retention job.
type Object struct {
	Key  string
	Size int64
}

type Store interface {
	// GetObject returns nil bytes and nil error when the key does not exist.
	GetObject(ctx context.Context, bucket string, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket string, key string, body []byte, acl string) error
	ListBuckets(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, bucket string) ([]Object, error)
	DeleteObject(ctx context.Context, bucket string, key string) error
	CreateBucket(ctx context.Context, bucket string) error
}

// EnsureBuckets creates every fixed bucket, ignoring ones that already exist.
func EnsureBuckets(ctx context.Context, store Store) error {
	for _, bucket := range FixedBuckets {
		if err := store.CreateBucket(ctx, bucket); err != nil {
			return err
		}
	}

	return nil
}
