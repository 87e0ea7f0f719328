package command

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mkcommunity/registry/internal/metrics"
	"github.com/mkcommunity/registry/pkg/log"
)

// Journal receives entries for logged commands. The command journal package
// provides the real implementation; tests may pass a nil-safe fake.
type Journal interface {
	Append(ctx context.Context, name string, data []byte, timestamp int64) error
}

// Executor runs commands and appends journal entries for logged ones. The
// journal append happens after the command's own transaction has committed; a
// crash in between leaves the journal short one entry, which consumers
// tolerate.
type Executor struct {
	env     Env
	journal Journal
}

func NewExecutor(env Env, journal Journal) *Executor {
	return &Executor{env: env, journal: journal}
}

func (e *Executor) Run(ctx context.Context, cmd Command) (any, error) {
	result, errHandle := cmd.Handle(ctx, e.env)

	metrics.Command(cmd.Name(), errHandle)

	if errHandle != nil {
		return nil, errHandle
	}

	if e.journal != nil && IsLogged(cmd.Name()) {
		args, errMarshal := json.Marshal(cmd)
		if errMarshal != nil {
			slog.Error("Failed to serialize command for journal",
				slog.String("command", cmd.Name()), log.ErrAttr(errMarshal))

			return result, nil
		}

		if errAppend := e.journal.Append(ctx, cmd.Name(), args, e.env.Now().Unix()); errAppend != nil {
			// The primary effect is committed; a missed journal entry is
			// tolerated by consumers.
			slog.Error("Failed to append command journal entry",
				slog.String("command", cmd.Name()), log.ErrAttr(errAppend))
		}
	}

	return result, nil
}
