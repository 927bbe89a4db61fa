package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/ctxutil"
)

const (
	AutoSubmitJob    = "auto_submit_attempts"
	PurgeSessionsJob = "purge_expired_sessions"
)

type AutoSubmitter interface {
	AutoSubmitExpired(ctx context.Context) (int, error)
}

type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AutoSubmit — задача автосдачи попыток с истёкшим временем.
func AutoSubmit(svc AutoSubmitter) Job {
	return func(ctx context.Context) error {
		_, err := svc.AutoSubmitExpired(ctxutil.WithOp(ctx, AutoSubmitJob))
		return err
	}
}

// PurgeSessions удаляет истёкшие сессии. Поиск их и так не находит, это только уборка.
func PurgeSessions(store SessionPurger, log *zap.Logger, now func() time.Time) Job {
	return func(ctx context.Context) error {
		dbCtx, cancel := ctxutil.WithDBTimeout(ctx)
		defer cancel()
		n, err := store.DeleteExpired(dbCtx, now())
		if err != nil {
			return err
		}
		if n > 0 && log != nil {
			log.Info("expired sessions purged", zap.Int64("count", n))
		}
		return nil
	}
}
