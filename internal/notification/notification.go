// Package notification stores per-user notifications. Dispatch is a table
// insert; delivery is whatever the frontend polls.
package notification

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

// Well-known notification types.
const (
	TypeBanned       = "BANNED"
	TypeUnbanned     = "UNBANNED"
	TypeRoleGranted  = "ROLE_GRANTED"
	TypeRosterInvite = "ROSTER_INVITE"
)

// Notification mirrors a notifications row.
type Notification struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	CreatedDate int64  `json:"created_date"`
	IsRead      bool   `json:"is_read"`
}

// Notify inserts one notification.
func Notify(ctx context.Context, db database.Database, userID int64, kind string, content string) error {
	return db.ExecInsertBuilder(ctx, db.Builder().
		Insert("notifications").
		Columns("user_id", "type", "content", "created_date").
		Values(userID, kind, content, time.Now().Unix()))
}

// For lists a user's notifications newest first, optionally unread only.
func For(ctx context.Context, db database.Database, userID int64, unreadOnly bool) ([]Notification, error) {
	builder := db.Builder().
		Select("id", "user_id", "type", "content", "created_date", "is_read").
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_date DESC", "id DESC")

	if unreadOnly {
		builder = builder.Where(sq.Eq{"is_read": false})
	}

	rows, errRows := db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var notifications []Notification

	for rows.Next() {
		var entry Notification
		if errScan := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Content,
			&entry.CreatedDate, &entry.IsRead); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		notifications = append(notifications, entry)
	}

	return notifications, rows.Err()
}

// MarkRead flags a set of notifications read for a user. Ids not owned by the
// user are ignored.
func MarkRead(ctx context.Context, db database.Database, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	return db.ExecUpdateBuilder(ctx, db.Builder().
		Update("notifications").
		Set("is_read", true).
		Where(sq.And{sq.Eq{"user_id": userID}, sq.Eq{"id": ids}}))
}
