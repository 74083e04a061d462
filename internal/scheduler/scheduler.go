package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
)

// Runner is the batch run the scheduler triggers.
type Runner interface {
	Run(ctx context.Context, cfg *config.Config) (downloader.Report, error)
}

// Scheduler re-runs the batch on a cron schedule. A run never overlaps the
// previous one.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	cfg       *config.Config
	cron      string
	timeout   time.Duration
	log       logging.Logger

	// ctx is cancelled by Stop so that a run in progress winds down.
	ctx    context.Context
	cancel context.CancelFunc
	// running is held for the whole of a run, whether cron or a direct
	// RunOnce started it.
	running sync.Mutex
}

// New creates a new Scheduler. timeout bounds a single run; zero means none.
func New(cfg *config.Config, cron string, timeout time.Duration, runner Runner, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		cfg:       cfg.Clone(),
		cron:      strings.TrimSpace(cron),
		timeout:   timeout,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cron == "" {
		return errors.New("scheduler: empty cron expression")
	}
	_, err := s.scheduler.Cron(s.cron).SingletonMode().Do(func() { s.RunOnce() })
	if err != nil {
		return errors.Wrapf(err, "scheduler: cron %q", s.cron)
	}
	s.scheduler.StartAsync()
	s.log.Infof("scheduler: running %s on %q", s.cfg.Name, s.cron)
	return nil
}

// RunOnce performs one batch run and logs its summary. It returns at once
// when another run is in progress or the scheduler is stopped, and reports
// whether it ran.
func (s *Scheduler) RunOnce() bool {
	if !s.running.TryLock() {
		s.log.Warnf("scheduler: run for %s still in progress, skipping", s.cfg.Name)
		return false
	}
	defer s.running.Unlock()
	if s.ctx.Err() != nil {
		return false
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.log.Infof("scheduler: starting run for %s", s.cfg.Name)
	report, err := s.runner.Run(ctx, s.cfg)
	if err != nil {
		s.log.Errorf("scheduler: run for %s failed: %v", s.cfg.Name, err)
		return true
	}
	s.log.Infof("scheduler: completed run for %s: %d processed, %d skipped, %d failed",
		s.cfg.Name,
		report.Count(downloader.StatusProcessed),
		report.Count(downloader.StatusSkipped),
		report.Count(downloader.StatusFailed))
	return true
}

// Stop stops the scheduler, cancels a run in progress and waits for it.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.cancel()
	s.running.Lock()
	defer s.running.Unlock()
}
