package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/logging"
)

const defaultJobTimeout = 10 * time.Minute

// Job is one scheduled task.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A job still running when
// its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// JobInfo describes one scheduled job.
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// New creates a scheduler. timeout bounds each job run; zero selects ten minutes.
func New(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
		timeout: timeout,
		jobs:    make(map[string]cron.EntryID),
	}
}

// AddJob schedules job. spec accepts standard five-field cron expressions
// and descriptors such as "@every 15m".
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	s.mu.Unlock()

	logger().Info().Str("job", name).Str("schedule", spec).Msg("job scheduled")
	return nil
}

// AddInterval schedules job every d.
func (s *Scheduler) AddInterval(name string, d time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("schedule job %s: interval must be positive", name)
	}
	return s.AddJob(name, "@every "+d.String(), job)
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		logger().Warn().Err(err).Str("job", name).Msg("job failed")
		return
	}
	logger().Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job completed")
}

// RunNow executes a job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logger().Info().Str("job", name).Msg("running job now")
	return job(ctx)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs lists scheduled jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		infos = append(infos, JobInfo{Name: name, NextRun: e.Next, LastRun: e.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// cronLogger adapts cron's logger interface to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger().Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger().Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func logger() *zerolog.Logger { return logging.Component("scheduler") }
