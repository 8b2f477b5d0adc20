package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultJobTimeout = 30 * time.Minute

// Job is one scheduled task.
type Job func(ctx context.Context) error

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler runs named jobs on cron schedules in a fixed timezone.
// A job still running when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *zerolog.Logger

	mu   sync.Mutex
	jobs map[string]entry
	base context.Context
}

func New(loc *time.Location, logger *zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "jobs").Logger()

	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: defaultJobTimeout,
		logger:  &l,
		jobs:    make(map[string]entry),
		base:    context.Background(),
	}
}

// AddJob registers job under name. spec uses the standard five-field format
// ("0 9 * * *") or a descriptor such as "@every 30m".
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: id, schedule: spec}
	s.logger.Info().Str("job", name).Str("schedule", spec).Msg("job added")
	return nil
}

func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.logger.Info().Str("job", name).Msg("job removed")
	}
}

// Start runs the cron loop until ctx is done, then waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info().Int("jobs", len(s.ListJobs())).Msg("starting scheduler")
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info().Msg("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// RunNow executes job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info().Str("job", name).Msg("running job now")
	return job(ctx)
}

// ListJobs returns the registered jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{Name: name, Schedule: e.schedule, NextRun: ce.Next, LastRun: ce.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info().Str("job", name).Msg("job started")
	if err := job(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	s.logger.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("job completed")
}
