package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named recurring task. InitialDelay staggers the first run so the
// urgent and normal tiers do not hammer the upstream together at startup.
type Job struct {
	Name         string
	Interval     time.Duration
	InitialDelay time.Duration
	Run          func(ctx context.Context)
}

// Scheduler drives the periodic jobs: scan tiers plus maintenance. One
// goroutine per job; a tick is skipped rather than queued when the previous
// run is still going.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start blocks until ctx is cancelled and every job goroutine has drained.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if job.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.InitialDelay):
		}
	}

	run := func() {
		start := time.Now()
		job.Run(ctx)
		s.logger.Debug().
			Str("job", job.Name).
			Dur("duration", time.Since(start)).
			Msg("job run finished")
	}

	run()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
