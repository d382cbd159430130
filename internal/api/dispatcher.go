package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs webhook work after the response has been sent. At most
// limit jobs run at once; Go blocks while the pool is full.
type Dispatcher struct {
	g       errgroup.Group
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(limit int, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{timeout: timeout, log: log.With(zap.String("component", "dispatcher"))}
	d.g.SetLimit(limit)
	return d
}

// Go runs fn with a context detached from parent's cancellation and bounded
// by the dispatcher timeout. Errors and panics are logged.
func (d *Dispatcher) Go(parent context.Context, job string, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(parent)
	d.g.Go(func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				d.log.Error("webhook job panicked", zap.String("job", job), zap.Any("panic", p))
			}
		}()

		if err := fn(ctx); err != nil {
			d.log.Error("webhook job failed", zap.String("job", job), zap.Error(err))
		}
		return nil
	})
}

// Wait blocks until every dispatched job has finished.
func (d *Dispatcher) Wait() {
	_ = d.g.Wait()
}
