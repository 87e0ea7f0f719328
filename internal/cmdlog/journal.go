// Package cmdlog is the append-only command journal and its archival to
// object-store segments.
package cmdlog

import (
	"context"

	"github.com/mkcommunity/registry/internal/database"
)

// Entry is one journalled command.
type Entry struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Journal appends entries to the command_log table in the primary database.
type Journal struct {
	db database.Database
}

func NewJournal(db database.Database) *Journal {
	return &Journal{db: db}
}

// Append writes one entry. Ids are dense and zero-based; the archiver's
// segment bucketing relies on both properties.
func (j *Journal) Append(ctx context.Context, name string, data []byte, timestamp int64) error {
	return database.DBErr(j.db.Exec(ctx,
		`INSERT INTO command_log (id, type, data, timestamp)
		 SELECT COALESCE(MAX(id) + 1, 0), ?, ?, ? FROM command_log`,
		name, string(data), timestamp))
}
