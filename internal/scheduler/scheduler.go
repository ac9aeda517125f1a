// Package scheduler runs the periodic jobs: ingestion and scanning, DXY
// refresh, auto-selection, predictive recomputation and the training
// hook. Triggers are dispatched to a bounded worker pool; a job still in
// flight coalesces its next trigger instead of stacking up.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/metrics"
)

const defaultWorkers = 4

// JobFunc is one scheduled unit of work
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	fn       JobFunc
	inFlight atomic.Bool
}

// Scheduler owns the cron table and the worker pool
type Scheduler struct {
	cron    *cron.Cron
	slots   chan struct{}
	logger  zerolog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	jobs []*job
}

// New creates a scheduler with workers concurrent job slots
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		slots:   make(chan struct{}, workers),
		logger:  config.NewLogger("scheduler"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register schedules fn under name with a cron spec ("@every 60s").
func (s *Scheduler) Register(name, every string, fn JobFunc) error {
	j := &job{name: name, fn: fn}

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), func() {
		s.trigger(j)
	}); err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	s.logger.Info().Str("job", name).Str("every", every).Msg("Job registered")
	return nil
}

// Trigger runs a registered job out of schedule (startup warm-up,
// operator request). Coalescing still applies.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			go s.trigger(j)
			return true
		}
	}
	return false
}

func (s *Scheduler) trigger(j *job) {
	if !j.inFlight.CompareAndSwap(false, true) {
		metrics.SchedulerJobsCoalesced.WithLabelValues(j.name).Inc()
		s.logger.Debug().Str("job", j.name).Msg("Trigger coalesced, job already running")
		return
	}

	select {
	case s.slots <- struct{}{}:
	case <-s.baseCtx.Done():
		j.inFlight.Store(false)
		return
	}

	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.slots
			j.inFlight.Store(false)
			s.wg.Done()
		}()
		s.run(j)
	}()
}

// run executes one job. Errors and panics are logged and counted, never
// fatal: the next tick gets a clean attempt.
func (s *Scheduler) run(j *job) {
	started := time.Now()
	outcome := metrics.OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomeError
			s.logger.Error().Str("job", j.name).Interface("panic", r).Msg("Job panicked")
		}
		metrics.SchedulerJobRuns.WithLabelValues(j.name, outcome).Inc()
		metrics.SchedulerJobDuration.WithLabelValues(j.name).Observe(time.Since(started).Seconds())
	}()

	if err := j.fn(s.baseCtx); err != nil {
		outcome = metrics.OutcomeError
		s.logger.Error().Err(err).Str("job", j.name).Msg("Job failed")
		return
	}
	s.logger.Debug().Str("job", j.name).Dur("took", time.Since(started)).Msg("Job finished")
}

// Start begins dispatching scheduled triggers
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop halts the cron table, cancels running jobs and waits for them
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}
