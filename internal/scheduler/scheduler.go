// Package scheduler runs ContactPipe's periodic housekeeping jobs on cron
// expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/ContactPipe/internal/store"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler creates and starts a cron scheduler using the standard
// five-field syntax. A panicking job is logged and does not stop the others.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, now: time.Now}
}

// AddJob schedules task on expr. It returns an error if the expression is
// invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// SchedulePrune removes inbound ids older than retention from repo on expr.
func (s *Scheduler) SchedulePrune(expr string, repo store.DedupRepo, retention time.Duration) error {
	if retention <= 0 {
		return fmt.Errorf("dedup retention must be positive, got %s", retention)
	}
	if err := s.AddJob(expr, func() { s.prune(repo, retention) }); err != nil {
		return err
	}
	slog.Info("Scheduler: inbound id cleanup scheduled", "schedule", expr, "retention", retention)
	return nil
}

func (s *Scheduler) prune(repo store.DedupRepo, retention time.Duration) {
	cutoff := s.now().Add(-retention)
	n, err := repo.PruneInbound(cutoff)
	if err != nil {
		slog.Error("Scheduler prune: failed to delete old inbound ids", "cutoff", cutoff, "error", err)
		return
	}
	slog.Info("Scheduler prune: old inbound ids deleted", "removed", n, "cutoff", cutoff)
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
