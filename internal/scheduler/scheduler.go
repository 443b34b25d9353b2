// Package scheduler drives the pipeline: it reconciles the index on
// startup, runs the pipeline after each debounced burst of source changes,
// polls the force-rebuild marker, and backs off after failures.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/watcher"
)

// Runner runs one pipeline reconciliation.
type Runner interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (*pipeline.Result, error)
}

// Checker compares the readiness flag with the collections.
type Checker interface {
	Check() (*pipeline.CheckResult, error)
}

// EventSource delivers debounced batches of source changes.
type EventSource interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan []watcher.FileEvent
	Errors() <-chan error
}

// Options configures a Scheduler.
type Options struct {
	// PollInterval is how often the force-rebuild marker is checked.
	PollInterval time.Duration
	// BackoffInitial and BackoffMax bound the delay before retrying a
	// failed run.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Logger         *slog.Logger
}

// Scheduler owns the watch loop. At most one run is in flight at a time.
type Scheduler struct {
	runner  Runner
	checker Checker
	gate    *gate.Gate
	events  EventSource
	opts    Options
	logger  *slog.Logger
	backoff *cerrors.Backoff

	mu      sync.Mutex
	runs    int
	lastErr error
}

// New creates a Scheduler. events may be nil, in which case only the
// startup run, force polling and retries happen.
func New(runner Runner, checker Checker, g *gate.Gate, events EventSource, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		runner:  runner,
		checker: checker,
		gate:    g,
		events:  events,
		opts:    opts,
		logger:  opts.Logger,
		backoff: cerrors.NewBackoff(opts.BackoffInitial, opts.BackoffMax),
	}
}

// Reconcile applies the startup policy and returns the trigger for the
// first run:
//   - no collection exists: a full rebuild is forced;
//   - the flag is not Ready, or Ready is contradicted by the collections:
//     the rebuild flag is set and only stale kinds are rebuilt;
//   - otherwise the index is trusted and the run only picks up changes made
//     while nothing was watching.
func (s *Scheduler) Reconcile() pipeline.Trigger {
	res, err := s.checker.Check()
	if err != nil {
		s.logger.Warn("consistency_check_failed", cerrors.LogAttrs(err)...)
		return pipeline.TriggerStartup
	}

	switch {
	case res.StorageEmpty():
		s.logger.Info("storage_empty_forcing_rebuild")
		if err := s.gate.RequestForce("storage empty"); err != nil {
			s.logger.Warn("force_request_failed", cerrors.LogAttrs(err)...)
		}
		return pipeline.TriggerForce
	case !res.TrustedReady():
		for _, inc := range res.Inconsistencies {
			s.logger.Warn("consistency_violation",
				slog.String("type", inc.Type.String()),
				slog.String("kind", string(inc.Kind)),
				slog.String("details", inc.Details))
		}
		if res.State == gate.StateReady {
			if err := s.gate.RequestRebuild("index contradicts readiness flag"); err != nil {
				s.logger.Warn("rebuild_request_failed", cerrors.LogAttrs(err)...)
			}
		}
	default:
		s.logger.Debug("index_trusted", slog.Duration("check", res.Duration))
	}
	return pipeline.TriggerStartup
}

// Run reconciles, performs the startup run, then watches until ctx is
// cancelled. It returns nil on a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	trigger := s.Reconcile()

	var events <-chan []watcher.FileEvent
	var errs <-chan error
	if s.events != nil {
		events, errs = s.events.Events(), s.events.Errors()
		go func() {
			if err := s.events.Start(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("watcher_stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() { _ = s.events.Stop() }()
	}

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()
	s.runOnce(ctx, trigger, retry)

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	s.logger.Info("scheduler_started", slog.Duration("poll_interval", s.opts.PollInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler_stopped", slog.Int("runs", s.Runs()))
			return nil

		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.logger.Debug("sources_changed", slog.Int("events", len(batch)), slog.String("first", describe(batch)))
			s.runOnce(ctx, pipeline.TriggerWatch, retry)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("watcher_error", slog.String("error", err.Error()))

		case <-poll.C:
			// While a retry is pending the retry run consumes the marker.
			if s.backoff.Failures() == 0 && s.gate.ForceRequested() {
				s.runOnce(ctx, pipeline.TriggerForce, retry)
			}

		case <-retry.C:
			s.runOnce(ctx, pipeline.TriggerRetry, retry)
		}
	}
}

// runOnce runs the pipeline and arms the retry timer after a failure. A
// fatal failure is retried on the same capped backoff, since only an
// operator fix can clear it.
func (s *Scheduler) runOnce(ctx context.Context, trigger pipeline.Trigger, retry *time.Timer) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx, trigger)

	s.mu.Lock()
	s.runs++
	s.lastErr = err
	s.mu.Unlock()

	if !retry.Stop() {
		select {
		case <-retry.C:
		default:
		}
	}

	switch {
	case err == nil:
		s.backoff.Reset()
	case ctx.Err() != nil:
	default:
		if cerrors.IsFatal(err) {
			s.logger.Error("run_needs_operator", cerrors.LogAttrs(err)...)
		}
		delay := s.backoff.Next()
		s.logger.Warn("run_retry_scheduled",
			slog.Duration("delay", delay),
			slog.Int("failures", s.backoff.Failures()),
			slog.String("error", err.Error()))
		retry.Reset(delay)
	}
}

// Runs returns how many pipeline runs were attempted.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// LastError returns the error of the most recent run, nil after a success.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func describe(batch []watcher.FileEvent) string {
	if len(batch) == 0 {
		return ""
	}
	return batch[0].Target + "/" + batch[0].Path + " " + batch[0].Operation.String()
}
