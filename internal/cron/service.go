package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/metrics"
)

const defaultInterval = time.Minute

var errNoLocks = errors.New("no cron job could take its lock")

// Recorder receives one outcome per job per tick.
type Recorder interface {
	Record(job, outcome string, took time.Duration)
}

type discardRecorder struct{}

func (discardRecorder) Record(string, string, time.Duration) {}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  Recorder
	Interval time.Duration
}

// Service ticks through the registry, running each job under its
// cross-replica lock.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	recorder Recorder
	every    time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}
	s := &Service{
		logg:     params.Logger,
		jobs:     params.Registry,
		lock:     params.Lock,
		recorder: params.Metrics,
		every:    params.Interval,
	}
	if s.jobs == nil {
		s.jobs = &Registry{names: map[string]struct{}{}}
	}
	if s.recorder == nil {
		s.recorder = discardRecorder{}
	}
	if s.every <= 0 {
		s.every = defaultInterval
	}
	return s, nil
}

// Run fires one cycle straight away and then one per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle fails only when every registered job hit a lock error.
func (s *Service) runCycle(ctx context.Context) error {
	jobs := s.jobs.Jobs()
	lockErrs := 0
	for _, job := range jobs {
		jobCtx := s.logg.WithField(ctx, "job", job.Name())
		if err := s.tick(jobCtx, job); err != nil {
			lockErrs++
			s.logg.Error(jobCtx, "cron lock unavailable", err)
		}
	}
	if len(jobs) > 0 && lockErrs == len(jobs) {
		return errNoLocks
	}
	return nil
}

// tick returns an error only for lock trouble. Job failures are logged and
// recorded here.
func (s *Service) tick(ctx context.Context, job Job) error {
	name := job.Name()
	owned, err := s.lock.Acquire(ctx, name)
	if err != nil {
		return err
	}
	if !owned {
		s.logg.Info(ctx, "job held by another instance")
		s.recorder.Record(name, metrics.JobSkipped, 0)
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, name); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	started := time.Now()
	err = job.Run(ctx)
	took := time.Since(started)
	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		s.recorder.Record(name, metrics.JobFailed, took)
		return nil
	}
	s.logg.Info(ctx, "job completed")
	s.recorder.Record(name, metrics.JobSucceeded, took)
	return nil
}
