package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/curator/internal/engine"
	"github.com/mohammad-safakhou/curator/internal/lock"
	"github.com/mohammad-safakhou/curator/models"
)

// Scheduler fires selection cycles on a cron-like spec. Cycles never
// overlap: the redis guard serializes across processes and the loop runs
// cycles inline so one process never races itself.
type Scheduler struct {
	Logger   *log.Logger
	Engine   *engine.Engine
	Guard    *lock.Guard
	CronSpec string
	LockTTL  time.Duration

	lastRun time.Time
}

// Run blocks until ctx is cancelled, triggering a cycle whenever the cron
// spec is due. An in-flight cycle is allowed to finish on shutdown: partial
// commits are idempotent, so draining beats abandoning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.Logger.Printf("scheduler starting, spec %q", s.CronSpec)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Printf("scheduler stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
			if !s.isDue(time.Now()) {
				continue
			}
			s.runOnce()
		}
	}
}

// runOnce takes the cycle guard and executes one cycle with its own
// deadline, detached from the scheduler's shutdown context.
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.LockTTL)
	defer cancel()

	acquired, err := s.Guard.AcquireCycle(ctx, s.LockTTL)
	if err != nil {
		s.Logger.Printf("cycle lock error, skipping tick: %v", err)
		return
	}
	if !acquired {
		s.Logger.Printf("another cycle is running, skipping tick")
		return
	}
	defer func() {
		if err := s.Guard.ReleaseCycle(ctx); err != nil {
			s.Logger.Printf("releasing cycle lock: %v", err)
		}
	}()

	s.lastRun = time.Now()
	res, err := s.Engine.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNoCandidates) {
			s.Logger.Printf("nothing to select this tick: %v", err)
		} else {
			s.Logger.Printf("cycle failed: %v", err)
		}
		return
	}
	s.Logger.Printf("cycle %s selected %d articles", res.SessionID, len(res.Selected))
}

// isDue evaluates the cron spec against the last run time. Supports
// "@hourly", "@daily" and standard 5-field cron expressions; an invalid
// spec degrades to @hourly.
func (s *Scheduler) isDue(now time.Time) bool {
	switch s.CronSpec {
	case "@daily":
		return s.lastRun.IsZero() || now.Sub(s.lastRun) >= 24*time.Hour
	case "@hourly", "":
		return s.lastRun.IsZero() || now.Sub(s.lastRun) >= time.Hour
	default:
		expr, err := cronexpr.Parse(s.CronSpec)
		if err != nil {
			s.Logger.Printf("invalid cron spec %q, treating as @hourly", s.CronSpec)
			return s.lastRun.IsZero() || now.Sub(s.lastRun) >= time.Hour
		}
		if s.lastRun.IsZero() {
			return true
		}
		return !expr.Next(s.lastRun).After(now)
	}
}
