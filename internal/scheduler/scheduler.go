// Package scheduler runs the quote fetcher and digest mailer on cron triggers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/metrics"
)

// Job is one scheduled unit of work. A failed run is logged; the next trigger is the retry.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Config controls trigger evaluation.
type Config struct {
	Location     *time.Location
	RunOnStartup bool
}

// Scheduler owns a cron instance with a seconds field.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []Job
	cfg    Config
	logger *zap.Logger
	ctx    context.Context
}

// New parses every job spec up front so a typo fails at startup.
func New(cfg Config, jobs []Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger: logger.Sugar()}

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		ctx:    context.Background(),
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
	}
	return s, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	if s.cfg.RunOnStartup {
		for _, job := range s.jobs {
			if ctx.Err() != nil {
				break
			}
			s.execute(job)
		}
	}

	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("next trigger", zap.Int("entry", int(entry.ID)), zap.Time("at", entry.Next))
	}

	<-ctx.Done()
	s.logger.Info("stopping scheduler; waiting for running jobs")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) execute(job Job) {
	start := time.Now()
	log := s.logger.With(zap.String("job", job.Name))
	log.Info("job started")
	err := job.Run(s.ctx)
	elapsed := time.Since(start)
	metrics.ObserveJob(job.Name, err, elapsed)
	if err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return
	}
	log.Info("job finished", zap.Duration("elapsed", elapsed))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
