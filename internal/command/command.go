// Package command defines the uniform unit of work. Every mutating or
// querying operation is a named, JSON-serialisable command executed against
// the storage and object-store façades. Commands marked as logged are
// journalled after a successful run and must be re-executable from their
// serialized form.
package command

import (
	"context"
	"time"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
)

// Env is what a command may touch while handling. Each invocation opens its
// own database connection through Open; connections are never shared between
// concurrent commands.
type Env interface {
	Open(ctx context.Context, name string, opts database.Options) (database.Database, error)
	ObjectStore() objstore.Store
	Now() time.Time
}

// Command carries its arguments as exported fields and no hidden state.
type Command interface {
	Name() string
	Handle(ctx context.Context, env Env) (any, error)
}
