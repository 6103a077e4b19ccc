// Package scheduler provides cron-based job scheduling for CoachPipe.
//
// It drives the optional in-process recovery run and dispatcher tick; most
// deployments hit the HTTP endpoints from an external cron instead.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner with named jobs.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow); panics in
	// jobs are recovered so one bad tick cannot take the process down.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a named task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler: job firing", "job", name)
		task()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s (%q): %w", name, expr, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "cron", expr, "entryID", int(id))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler.Stop: scheduler stopped")
}
