// Package scheduler runs corpus rebuilds on a cron schedule so the index
// follows changes to the source files without an operator calling the
// admin endpoint.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// RebuildFunc performs one full rebuild.
type RebuildFunc func(ctx context.Context) (rag.GenerationInfo, error)

// Scheduler triggers RebuildFunc on a cron schedule. Runs never overlap: a
// tick that arrives while the previous rebuild is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	rebuild RebuildFunc
	timeout time.Duration
	log     *slog.Logger
}

// New returns a stopped Scheduler. timeout bounds each run.
func New(rebuild RebuildFunc, timeout time.Duration, log *slog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		rebuild: rebuild,
		timeout: timeout,
		log:     log,
	}
}

// Start registers expr and starts the cron loop. expr is a standard
// five-field cron expression or a descriptor such as "@hourly" or
// "@every 6h".
func (s *Scheduler) Start(expr string) error {
	if _, err := s.cron.AddFunc(expr, func() { s.runOnce(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler: invalid rebuild schedule %q: %w", expr, err)
	}
	s.cron.Start()
	s.log.Info("scheduler: rebuild schedule started",
		slog.String("schedule", expr),
		slog.Time("next", s.Next()),
	)
	return nil
}

// Next returns the next scheduled run, or the zero time when none is
// scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts the schedule and waits for a running rebuild to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler: stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler: stop timed out waiting for running rebuild")
	}
}

// runOnce executes one rebuild with the configured timeout.
func (s *Scheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(logging.WithLogger(parent, s.log), s.timeout)
	defer cancel()

	start := time.Now()
	s.log.Info("scheduler: starting scheduled rebuild")

	info, err := s.rebuild(ctx)
	switch {
	case errors.Is(err, rag.ErrRebuildInProgress):
		s.log.Info("scheduler: skipped, another rebuild is in progress")
	case err != nil:
		s.log.Error("scheduler: scheduled rebuild failed",
			slog.Any("error", err),
			slog.Duration("duration", time.Since(start)),
		)
	default:
		s.log.Info("scheduler: scheduled rebuild complete",
			slog.String("index", info.Index),
			slog.Int("entries", info.Entries),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// cronLogger adapts slog to cron.Logger for the job wrappers.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("scheduler: cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("scheduler: cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
