package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (c *countingRunner) Run(ctx context.Context, cfg *config.Config) (downloader.Report, error) {
	c.runs.Add(1)
	return downloader.Report{Name: cfg.Name}, c.err
}

func TestStartRejectsBadCron(t *testing.T) {
	for _, expr := range []string{"", "every tuesday"} {
		s := New(config.Default(), expr, 0, &countingRunner{}, nil)
		if err := s.Start(); err == nil {
			s.Stop()
			t.Fatalf("expected error for cron %q", expr)
		}
	}
}

func TestRunOnceCallsRunner(t *testing.T) {
	r := &countingRunner{err: errors.New("boom")}
	s := New(config.Default(), "0 6 * * *", time.Minute, r, nil)
	if !s.RunOnce() || !s.RunOnce() {
		t.Fatalf("sequential runs should both run")
	}
	if got := r.runs.Load(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestStopCancelsRuns(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	blocking := runnerFunc(func(ctx context.Context, _ *config.Config) (downloader.Report, error) {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return downloader.Report{}, ctx.Err()
	})
	s := New(config.Default(), "0 6 * * *", 0, blocking, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go s.RunOnce()
	<-started
	s.Stop()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the run to be cancelled, got %v", err)
	}
}

func TestRunOnceNeverOverlaps(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	slow := runnerFunc(func(ctx context.Context, _ *config.Config) (downloader.Report, error) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return downloader.Report{}, nil
	})
	s := New(config.Default(), "0 6 * * *", 0, slow, nil)
	finished := make(chan bool)
	go func() { finished <- s.RunOnce() }()
	<-started

	if s.RunOnce() {
		t.Fatalf("second run should be skipped while the first is in progress")
	}
	close(release)
	if !<-finished {
		t.Fatalf("first run should report that it ran")
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected 1 run, got %d", got)
	}
	if !s.RunOnce() {
		t.Fatalf("a run after the first finished should go ahead")
	}
	s.Stop()
	if s.RunOnce() {
		t.Fatalf("stopped scheduler should not run")
	}
}

type runnerFunc func(ctx context.Context, cfg *config.Config) (downloader.Report, error)

func (f runnerFunc) Run(ctx context.Context, cfg *config.Config) (downloader.Report, error) {
	return f(ctx, cfg)
}
