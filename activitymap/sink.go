package activitymap

import (
	"context"

	auth "github.com/dudleytown/crypt-auth"
	"github.com/goliatone/go-print"
)

// NewLogSink returns an ActivitySink that writes every event as an audit
// entry. Failures are logged at warn level, everything else at info.
func NewLogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	_, logger = auth.ResolveLogger("auth.activity", nil, logger)
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		e := Normalize(event, opts...)
		args := []any{
			"action", e.Action,
			"area", e.Area,
			"outcome", e.Outcome,
			"actor", e.Actor,
			"actor_kind", e.ActorKind,
			"account", e.Account,
			"at", e.At,
		}
		if e.Detail != nil {
			args = append(args, "detail", print.MaybePrettyJSON(e.Detail))
		}

		if e.Outcome == OutcomeDone {
			logger.Info("activity", args...)
		} else {
			logger.Warn("activity", args...)
		}
		return nil
	})
}
