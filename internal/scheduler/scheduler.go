package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the cron schedule of each job
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timezone      string        `mapstructure:"timezone"`
	DailySpec     string        `mapstructure:"daily"`
	WeeklySpec    string        `mapstructure:"weekly"`
	RatesSpec     string        `mapstructure:"rates"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// DefaultConfig runs the daily sweep at 02:00, the weekly sweep on Monday
// at 03:00, and the rate recompute at 04:00, all UTC.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Timezone:      "UTC",
		DailySpec:     "0 2 * * *",
		WeeklySpec:    "0 3 * * 1",
		RatesSpec:     "0 4 * * *",
		RetryAttempts: DefaultPolicy.MaxAttempts,
		RetryDelay:    DefaultPolicy.Delay,
	}
}

// Policy returns the retry policy described by the config
func (c Config) Policy() Policy {
	p := DefaultPolicy
	if c.RetryAttempts > 0 {
		p.MaxAttempts = c.RetryAttempts
	}
	if c.RetryDelay > 0 {
		p.Delay = c.RetryDelay
	}
	return p
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler fires Runner jobs on their cron schedules. A job still running
// when its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg and registers the three jobs
func New(runner *Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, runner: runner, logger: logger, ctx: ctx, cancel: cancel}

	for _, entry := range []struct{ job, spec string }{
		{JobDaily, cfg.DailySpec},
		{JobWeekly, cfg.WeeklySpec},
		{JobRates, cfg.RatesSpec},
	} {
		if entry.spec == "" {
			continue
		}
		job := entry.job
		if _, err := c.AddFunc(entry.spec, func() { s.fire(job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cron expression for %s job %q: %w", job, entry.spec, err)
		}
		logger.Info("Scheduled job registered", zap.String("job", job), zap.String("spec", entry.spec))
	}
	return s, nil
}

func (s *Scheduler) fire(job string) {
	if _, err := s.runner.Run(s.ctx, job); err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", job), zap.Error(err))
	}
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs. If ctx ends first the
// running jobs are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Next returns the next fire time of every registered job
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Schedule.Next(time.Now()))
	}
	return out
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
