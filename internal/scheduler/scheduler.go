// Package scheduler runs the periodic jobs: the daily prune-and-remind
// pass and the conversation sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/notify"
)

// jobTimeout bounds a single run so a stuck store cannot pile up runs.
const jobTimeout = 4 * time.Minute

// SweepSpec is how often idle conversations are evicted.
const SweepSpec = "@every 1m"

type Scheduler struct {
	cron *cron.Cron
	base context.Context
}

// New builds a scheduler whose specs are evaluated in loc. Jobs receive a
// context derived from base, so cancelling base aborts running jobs.
func New(base context.Context, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, base: base}
}

// Add registers fn under a standard five-field spec or a descriptor such
// as "@every 1m".
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.base, jobTimeout)
		defer cancel()
		started := time.Now()
		fn(ctx)
		appLog.Debug("job finished", "job", name, "took", time.Since(started).String())
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	appLog.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out, jobs still running")
	}
}

// Maintainer is the part of the engine the daily job needs.
type Maintainer interface {
	RunDailyMaintenance(ctx context.Context) ([]notify.Notification, error)
}

// DailyMaintenance prunes, then delivers whatever reminders were produced.
// Reminders collected before a partial failure are still sent.
func DailyMaintenance(m Maintainer, sender notify.Sender) func(ctx context.Context) {
	return func(ctx context.Context) {
		ns, err := m.RunDailyMaintenance(ctx)
		if err != nil {
			appLog.Error("daily maintenance", err)
		}
		if len(ns) == 0 {
			return
		}
		sent := notify.Deliver(ctx, sender, ns)
		appLog.Info("reminders delivered", "sent", sent, "total", len(ns))
	}
}
