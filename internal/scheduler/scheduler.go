// Package scheduler drives the recurring jobs: the daily deadline scan,
// the escalation sweep, the send-queue drain, stale cleanup and
// reminders. One process in the fleet runs it; the store's unique
// constraints keep an accidental second runner from duplicating alerts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alexanderramin/planwatch/internal/alerting"
	"github.com/alexanderramin/planwatch/internal/calendar"
	"github.com/alexanderramin/planwatch/internal/metrics"
)

// JobFunc is one job body. It must be safe to run repeatedly and report
// failures through its error.
type JobFunc func(ctx context.Context) error

const defaultRunTimeout = 10 * time.Minute

type cronJob struct {
	name string
	spec string
	fn   JobFunc
}

type tickerJob struct {
	name  string
	every time.Duration
	fn    JobFunc
}

// Config carries the scheduler's collaborators.
type Config struct {
	Timezone   *time.Location
	Monitor    *Monitor
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	RunTimeout time.Duration
}

// Scheduler runs cron-scheduled and ticker-scheduled jobs, each wrapped
// with panic recovery, a soft per-run deadline and the failure monitor.
type Scheduler struct {
	tz         *time.Location
	monitor    *Monitor
	metrics    *metrics.Registry
	logger     *slog.Logger
	runTimeout time.Duration
	now        func() time.Time

	crons   []cronJob
	tickers []tickerJob

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &Scheduler{
		tz:         tz,
		monitor:    cfg.Monitor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		runTimeout: timeout,
		now:        time.Now,
	}
}

// WithClock is a test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// AddCron registers a job on a standard five-field cron spec, evaluated
// in the configured timezone.
func (s *Scheduler) AddCron(name, spec string, fn JobFunc) {
	s.crons = append(s.crons, cronJob{name: name, spec: spec, fn: fn})
}

// AddEvery registers a job on a fixed interval.
func (s *Scheduler) AddEvery(name string, every time.Duration, fn JobFunc) {
	s.tickers = append(s.tickers, tickerJob{name: name, every: every, fn: fn})
}

// Start validates the cron specs, then launches the cron entries and one
// goroutine per ticker job. It returns immediately; Stop shuts down.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithLocation(s.tz))
	for _, job := range s.crons {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.Run(ctx, job.name, job.fn) }); err != nil {
			return fmt.Errorf("cron spec %q for job %s: %w", job.spec, job.name, err)
		}
	}
	s.cron.Start()

	for _, job := range s.tickers {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(job.every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Run(ctx, job.name, job.fn)
				}
			}
		}()
	}

	s.logger.Info("scheduler started",
		"timezone", s.tz.String(), "cron_jobs", len(s.crons), "ticker_jobs", len(s.tickers))
	return nil
}

// Stop halts the cron driver and waits for ticker goroutines and any
// in-flight cron run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

// Run executes one job body under the soft deadline, panic recovery and
// the failure monitor. Exported so a CLI can trigger a single job run.
func (s *Scheduler) Run(ctx context.Context, name string, fn JobFunc) {
	if s.monitor.Paused(name) {
		s.logger.Warn("skipping paused job", "job", name)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := s.now()
	err := s.invoke(runCtx, fn)
	elapsed := time.Since(start)

	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.JobRuns.WithLabelValues(name, outcome).Inc()
		s.metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}

	if err != nil {
		s.logger.Error("job failed", "job", name, "elapsed", elapsed, "error", err)
		s.monitor.RecordFailure(ctx, name, err)
		return
	}
	s.monitor.RecordSuccess(name)
	s.logger.Debug("job complete", "job", name, "elapsed", elapsed)
}

func (s *Scheduler) invoke(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// WireAlerting registers the standard five jobs against the alerting
// orchestrator. The daily scan is gated on the country's business
// calendar; its target date is today in the scheduler's timezone.
func (s *Scheduler) WireAlerting(orch *alerting.Orchestrator, cal *calendar.Calendar, country string, batchSize int) {
	s.AddCron("daily_scan", "0 5 * * *", func(ctx context.Context) error {
		today := s.today()
		business, err := cal.IsBusinessDay(ctx, today, country)
		if err != nil {
			return err
		}
		if !business {
			s.logger.Info("daily scan skipped, not a business day", "date", today.Format("2006-01-02"))
			return nil
		}
		_, err = orch.RunDailyScan(ctx, today)
		return err
	})
	s.AddCron("stale_cleanup", "0 2 * * *", func(ctx context.Context) error {
		_, err := orch.ExpireStale(ctx)
		return err
	})
	s.AddCron("reminder_sender", "0 10 * * *", func(ctx context.Context) error {
		_, err := orch.SendReminders(ctx)
		return err
	})
	s.AddEvery("escalation_checker", 30*time.Minute, func(ctx context.Context) error {
		_, err := orch.CheckAndEscalateTimeouts(ctx)
		return err
	})
	s.AddEvery("queue_processor", 5*time.Minute, func(ctx context.Context) error {
		_, err := orch.ProcessQueue(ctx, batchSize)
		return err
	})
}

// today is the current civil date in the scheduler's timezone, as a UTC
// midnight matching how deadlines are stored.
func (s *Scheduler) today() time.Time {
	local := s.now().In(s.tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
