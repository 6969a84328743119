package evictor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/pool"
)

// Sweeper is the part of the pool the evictor drives.
type Sweeper interface {
	Evict(ctx context.Context) error
}

// Evictor runs idle-connection sweeps on a fixed interval. It satisfies
// pool.Scheduler, so the pool reschedules it whenever its eviction
// interval changes.
type Evictor struct {
	sweeper Sweeper
	logger  *zap.Logger
	cron    *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID
	interval time.Duration
	stopped  bool
}

var _ pool.Scheduler = (*Evictor)(nil)

func New(sweeper Sweeper, logger *zap.Logger) *Evictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	e := &Evictor{
		sweeper: sweeper,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	e.cron.Start()
	return e
}

// Reschedule replaces the current sweep schedule. A non-positive interval
// disables sweeping. Intervals below one second run every second.
func (e *Evictor) Reschedule(interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if e.entry != 0 {
		e.cron.Remove(e.entry)
		e.entry = 0
	}
	e.interval = interval
	if interval <= 0 {
		e.logger.Info("eviction disabled")
		return
	}

	e.entry = e.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		e.Sweep(context.Background())
	}))
	e.logger.Info("eviction scheduled", zap.Duration("interval", interval))
}

// Interval reports the active schedule, or zero when disabled.
func (e *Evictor) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entry == 0 {
		return 0
	}
	return e.interval
}

// Sweep runs one eviction pass now.
func (e *Evictor) Sweep(ctx context.Context) {
	start := time.Now()
	err := e.sweeper.Evict(ctx)
	switch {
	case errors.Is(err, pool.ErrClosed):
		e.logger.Debug("eviction skipped: pool closed")
	case err != nil:
		e.logger.Error("eviction sweep", zap.Error(err))
	default:
		e.logger.Debug("eviction sweep done", zap.Duration("took", time.Since(start)))
	}
}

// Stop removes the schedule and waits for a running sweep to finish.
func (e *Evictor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	if e.entry != 0 {
		e.cron.Remove(e.entry)
		e.entry = 0
	}
	e.mu.Unlock()

	<-e.cron.Stop().Done()
	e.logger.Info("evictor stopped")
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
