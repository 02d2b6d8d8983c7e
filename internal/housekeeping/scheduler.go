// Package housekeeping drives the job execution core's periodic maintenance:
// pruning old progress snapshots and failing jobs that have been stuck in
// PROGRESS long enough to be considered stale (an orphaned run left behind
// by a process that died mid-job). Both sweeps are registered as robfig/cron
// entries on a single scheduler, grounded in the teacher's
// internal/services/scheduler/scheduler_service.go idiom: one *cron.Cron,
// panic-recovered handlers, and a start/stop lifecycle tied to the process.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/interfaces"
	"github.com/irjudson/lumina/internal/models"
)

// defaultStaleAfter is how long a job may sit in PROGRESS with no terminal
// status before the sweep considers it orphaned and fails it.
const defaultStaleAfter = 2 * time.Hour

// Scheduler runs the Progress Channel's cleanup_old sweep and a stale-job
// sweep on cron schedules.
type Scheduler struct {
	store    interfaces.JobStore
	progress interfaces.ProgressChannel
	logger   arbor.ILogger
	cron     *cron.Cron

	progressMaxAge time.Duration
	staleAfter     time.Duration
}

// New constructs a Scheduler. cleanupSchedule is a 6-field cron expression
// with a leading seconds field (e.g. "0 0 * * * *" for hourly), matching
// common.ValidateJobSchedule's dialect; progressMaxAge is how old a progress
// snapshot must be before CleanupOld removes it.
func New(store interfaces.JobStore, progress interfaces.ProgressChannel, logger arbor.ILogger, cleanupSchedule string, progressMaxAge time.Duration) (*Scheduler, error) {
	if err := common.ValidateJobSchedule(cleanupSchedule); err != nil {
		return nil, fmt.Errorf("invalid progress cleanup schedule: %w", err)
	}

	s := &Scheduler{
		store:          store,
		progress:       progress,
		logger:         logger,
		cron:           cron.New(cron.WithSeconds()),
		progressMaxAge: progressMaxAge,
		staleAfter:     defaultStaleAfter,
	}

	if _, err := s.cron.AddFunc(cleanupSchedule, s.runCleanup); err != nil {
		return nil, fmt.Errorf("register progress cleanup: %w", err)
	}
	// Stale-job detection runs on a fixed, more frequent cadence than
	// progress cleanup, independent of the configured cleanup schedule.
	if _, err := s.cron.AddFunc("0 */10 * * * *", s.runStaleSweep); err != nil {
		return nil, fmt.Errorf("register stale job sweep: %w", err)
	}

	return s, nil
}

// Start launches the cron scheduler's background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("housekeeping scheduler started")
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("housekeeping scheduler stopped")
}

func (s *Scheduler) runCleanup() {
	defer s.recoverPanic("progress cleanup")

	removed, err := s.progress.CleanupOld(context.Background(), s.progressMaxAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("progress cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("pruned old progress snapshots")
	}
}

// runStaleSweep fails any job still in PROGRESS whose last update is older
// than staleAfter, under the assumption the process driving it is gone.
func (s *Scheduler) runStaleSweep() {
	defer s.recoverPanic("stale job sweep")

	ctx := context.Background()
	jobs, err := s.store.ListJobs(ctx, models.JobFilter{Limit: 500})
	if err != nil {
		s.logger.Error().Err(err).Msg("stale job sweep: list jobs failed")
		return
	}

	cutoff := time.Now().Add(-s.staleAfter)
	for _, job := range jobs {
		if job.Status != models.JobStatusProgress || job.UpdatedAt.After(cutoff) {
			continue
		}

		reason := "stale: no progress update within " + s.staleAfter.String()
		failure := models.JobStatusFailure
		errMsg := reason
		if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &failure, Error: &errMsg}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark stale job as failed")
			continue
		}
		s.progress.PublishCompletion(ctx, job.ID, models.JobStatusFailure, nil, reason)
		s.logger.Warn().Str("job_id", job.ID).Time("last_update", job.UpdatedAt).Msg("failed stale job")
	}
}

func (s *Scheduler) recoverPanic(name string) {
	if r := recover(); r != nil {
		s.logger.Error().
			Str("sweep", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", common.GetStackTrace()).
			Msg("recovered from panic in housekeeping sweep")
	}
}
