package watch

import (
	"context"
	"sync"
	"time"

	logx "watchlb/pkg/logx"
)

// Scheduler owns the single repeating check timer. "Exactly one active
// timer" is structural: every arm goes through startLocked, which always
// cancels the previous one first.
type Scheduler struct {
	engine *Engine
	notify Notifier
	log    logx.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewScheduler(engine *Engine, notify Notifier, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{engine: engine, notify: notify, log: log}
}

// Start arms the repeating timer. An already-armed timer is cancelled
// first so two can never run at once.
func (s *Scheduler) Start(ctx context.Context, intervalMinutes int) {
	if intervalMinutes < 1 {
		intervalMinutes = DefaultRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx, time.Duration(intervalMinutes)*time.Minute)
}

func (s *Scheduler) startLocked(ctx context.Context, interval time.Duration) {
	s.cancelLocked()
	s.stopped = false

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.log.Info("timer armed", logx.Duration("interval", interval))
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.engine.Check(runCtx, false)
			}
		}
	}()
}

// Reconfigure cancels the current timer, runs one immediate passive check,
// then arms the new interval. The check finishes before the new timer
// exists, so its notifications land first.
func (s *Scheduler) Reconfigure(ctx context.Context, intervalMinutes int) {
	if intervalMinutes < 1 {
		intervalMinutes = DefaultRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.engine.Check(ctx, false)
	s.startLocked(ctx, time.Duration(intervalMinutes)*time.Minute)
}

// Stop cancels the timer and announces shutdown. Idempotent.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancelLocked()
	s.log.Info("timer stopped")
	if s.notify != nil {
		if err := s.notify.Send(ctx, "Shutting down"); err != nil {
			s.log.Warn("shutdown notice failed", logx.Err(err))
		}
	}
}

func (s *Scheduler) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.done != nil {
		<-s.done
		s.done = nil
	}
}
