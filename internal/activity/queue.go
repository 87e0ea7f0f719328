// Package activity ingests request activity into a bounded queue, drains it
// into per-user per-IP time ranges and compacts those ranges as they age.
package activity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/pkg/log"
)

// Recorder enqueues request activity rows. Enqueue failures are logged and
// never affect the response.
type Recorder struct {
	db      database.Database
	enabled bool
}

func NewRecorder(db database.Database, enabled bool) *Recorder {
	return &Recorder{db: db, enabled: enabled}
}

func (r *Recorder) Enqueue(ctx context.Context, userID int64, ipAddress string, path string, referer string, timestamp int64) {
	if !r.enabled {
		return
	}

	var refererValue any
	if referer != "" {
		refererValue = referer
	}

	if errInsert := r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("user_activity_queue").
		Columns("user_id", "ip_address", "path", "referer", "timestamp").
		Values(userID, ipAddress, stripQuery(path), refererValue, timestamp)); errInsert != nil {
		slog.Error("Failed to enqueue request activity", log.ErrAttr(errInsert))
	}
}

func stripQuery(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		return path[:idx]
	}

	return path
}

// loggedGetPaths are the only GET endpoints recorded; every POST is recorded.
//
//nolint:gochecknoglobals
var loggedGetPaths = map[string]bool{
	"/api/user/me":        true,
	"/api/user/me/player": true,
}

// ShouldRecord reports whether a request method and path are activity-logged.
func ShouldRecord(method string, path string) bool {
	if method == "POST" {
		return true
	}

	return method == "GET" && loggedGetPaths[stripQuery(path)]
}

// Middleware records activity after the response has been written, detached
// from the request lifecycle. resolveUser extracts the authenticated user id
// from the request context, resolveIP the best-effort client address.
func Middleware(recorder *Recorder, resolveUser func(*gin.Context) (int64, bool), resolveIP func(*gin.Context) string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		if !ShouldRecord(ctx.Request.Method, ctx.Request.URL.Path) {
			return
		}

		userID, loggedIn := resolveUser(ctx)
		if !loggedIn {
			return
		}

		path := ctx.Request.URL.Path
		referer := ctx.Request.Referer()
		address := resolveIP(ctx)
		now := timeNow().Unix()

		// Fire and forget; the response has already gone out.
		go recorder.Enqueue(context.WithoutCancel(ctx.Request.Context()), userID, address, path, referer, now)
	}
}
