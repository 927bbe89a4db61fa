package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/metrics"
	"github.com/Spok95/school-backend/internal/observability"
)

type Job func(ctx context.Context) error

type Runner struct {
	ctx context.Context
	log *zap.Logger
	wg  sync.WaitGroup
}

func New(ctx context.Context, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{ctx: ctx, log: log}
}

// Every запускает fn по тикеру до отмены контекста раннера.
func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				_ = r.RunOnce(name, fn)
			}
		}
	}()
}

// RunOnce — один прогон с метриками; паника превращается в ошибку и уходит в Sentry.
func (r *Runner) RunOnce(name string, fn Job) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in job %s: %v", name, rec)
			outcome = "panic"
		} else if err != nil {
			outcome = "error"
		}
		if err != nil {
			r.log.Error("job failed", zap.String("job", name), zap.Error(err))
			observability.CaptureOp("job."+name, err)
		}
		metrics.ObserveJob(name, outcome, time.Since(start))
	}()
	return fn(r.ctx)
}

// Wait ждёт остановки всех циклов после отмены контекста.
func (r *Runner) Wait() { r.wg.Wait() }
