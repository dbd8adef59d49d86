package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// SyncFunc runs one history refresh
type SyncFunc func(ctx context.Context) error

// SyncStats summarizes the runs so far
type SyncStats struct {
	Runs     int
	Failures int
	LastRun  time.Time
	LastErr  error
}

// SyncScheduler runs a refresh on a cron schedule. A run that is still going
// when the next tick fires is not overlapped; the tick is skipped.
type SyncScheduler struct {
	scheduler gocron.Scheduler
	schedule  cron.Schedule
	expr      string
	fn        SyncFunc

	mu    sync.Mutex
	job   gocron.Job
	stats SyncStats
}

// ValidateSchedule parses a standard five-field cron expression
func ValidateSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NewSyncScheduler creates a scheduler; call Start to begin running
func NewSyncScheduler(expr string, fn SyncFunc) (*SyncScheduler, error) {
	schedule, err := ValidateSchedule(expr)
	if err != nil {
		return nil, err
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SyncScheduler{
		scheduler: scheduler,
		schedule:  schedule,
		expr:      expr,
		fn:        fn,
	}, nil
}

// Start registers the job and starts the scheduler. Runs use ctx.
func (s *SyncScheduler) Start(ctx context.Context) error {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(s.expr, false),
		gocron.NewTask(func() {
			s.RunNow(ctx)
		}),
		gocron.WithName("history-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register sync job: %w", err)
	}

	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	s.scheduler.Start()
	log.Printf("⏰ [SYNC] Scheduled history sync '%s', next run at %s", s.expr, s.NextRun().Format(time.RFC3339))
	return nil
}

// RunNow runs the refresh immediately and records the result
func (s *SyncScheduler) RunNow(ctx context.Context) error {
	start := time.Now()
	err := s.fn(ctx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRun = start
	s.stats.LastErr = err
	if err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("❌ [SYNC] Run failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
	}
	return err
}

// NextRun is the next scheduled run, or the zero time before Start
func (s *SyncScheduler) NextRun() time.Time {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()

	if job == nil {
		return time.Time{}
	}
	next, err := job.NextRun()
	if err != nil {
		return s.schedule.Next(time.Now().UTC())
	}
	return next
}

// NextRuns previews the next n run times after from
func (s *SyncScheduler) NextRuns(from time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = s.schedule.Next(t)
		runs = append(runs, t)
	}
	return runs
}

// Stats returns the run counters
func (s *SyncScheduler) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop stops the scheduler and waits for a running job to finish
func (s *SyncScheduler) Stop() error {
	log.Println("⏹️ [SYNC] Stopping history sync scheduler...")
	return s.scheduler.Shutdown()
}
