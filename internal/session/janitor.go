package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Sweeper drops expired state and reports how many items it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor sweeps a fixed set of stores on an interval.
type Janitor struct {
	interval time.Duration
	clock    domain.Clock
	log      *zap.Logger
	sweepers map[string]Sweeper
}

func NewJanitor(interval time.Duration, clock domain.Clock, log *zap.Logger) *Janitor {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		interval: interval,
		clock:    clock,
		log:      log.With(zap.String("component", "janitor")),
		sweepers: make(map[string]Sweeper),
	}
}

// Register adds s under name. Call before Run.
func (j *Janitor) Register(name string, s Sweeper) {
	j.sweepers[name] = s
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce runs every registered sweeper once.
func (j *Janitor) SweepOnce() {
	now := j.clock.Now()
	for name, s := range j.sweepers {
		if n := s.Sweep(now); n > 0 {
			j.log.Info("swept expired state", zap.String("store", name), zap.Int("removed", n))
		}
	}
}
