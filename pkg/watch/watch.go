// Package watch polls a task execution until it reaches a terminal status.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modoterra/opsconsole/pkg/api"
)

// DefaultInterval is the poll interval used when none is given.
const DefaultInterval = 2 * time.Second

// maxFailures is the number of consecutive failed polls before Run gives up.
const maxFailures = 5

// Fetcher fetches one execution. *api.Client implements it.
type Fetcher interface {
	GetTaskExecution(ctx context.Context, id string) (*api.Execution, error)
}

// Change is emitted whenever the observed status differs from the last
// poll. Previous is empty for the first observation.
type Change struct {
	Previous  string
	Execution api.Execution
}

// Watcher polls an execution every interval.
type Watcher struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger
}

// New creates a watcher.
func New(f Fetcher, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fetcher: f, interval: interval, logger: logger}
}

// Run polls id until its status is terminal, the context is cancelled or
// polling fails repeatedly. onChange is called on the calling goroutine.
// Authorization and not-found errors end the watch immediately.
func (w *Watcher) Run(ctx context.Context, id string, onChange func(Change)) (*api.Execution, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		last     *api.Execution
		failures int
	)
	for {
		ex, err := w.fetcher.GetTaskExecution(ctx, id)
		switch {
		case err == nil:
			failures = 0
			if last == nil || last.Status != ex.Status {
				prev := ""
				if last != nil {
					prev = last.Status
				}
				if onChange != nil {
					onChange(Change{Previous: prev, Execution: *ex})
				}
			}
			last = ex
			if IsTerminal(ex.Status) {
				return ex, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case errors.Is(err, api.ErrUnauthorized), errors.Is(err, api.ErrNotFound):
			return last, err
		default:
			failures++
			w.logger.Warn("poll execution", "execution", id, "attempt", failures, "err", err)
			if failures >= maxFailures {
				return last, fmt.Errorf("giving up after %d failed polls: %w", failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsTerminal reports whether status means the execution has finished.
func IsTerminal(status string) bool {
	switch strings.ToLower(status) {
	case "success", "succeeded", "completed", "failed", "failure", "error",
		"cancelled", "canceled", "timeout", "stopped":
		return true
	}
	return false
}
