package commit

import (
	"fmt"
	"log/slog"
	"runtime"
)

// Phase is where the engine currently is in one upsert execution. Engine
// phases refine the persisted instant lifecycle: WRITING and INDEXING both
// happen while the instant is INFLIGHT.
type Phase uint8

const (
	PhaseRequested Phase = iota
	PhaseInflight
	PhaseWriting
	PhaseIndexing
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRequested:
		return "REQUESTED"
	case PhaseInflight:
		return "INFLIGHT"
	case PhaseWriting:
		return "WRITING"
	case PhaseIndexing:
		return "INDEXING"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

type config struct {
	workerConcurrency int
	failFast          bool
	autoCommit        bool
	logger            *slog.Logger
}

// Option configures an Engine.
type Option func(*config)

// WithWorkerConcurrency bounds the worker pool processing record groups.
// Defaults to GOMAXPROCS.
func WithWorkerConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workerConcurrency = n
		}
	}
}

// WithFailFast cancels sibling write tasks as soon as one reports a fatal
// fault. Off by default: the fan-in barrier waits for every dispatched task
// so no unflushed, partially-written segment is left behind.
func WithFailFast(failFast bool) Option {
	return func(c *config) { c.failFast = failFast }
}

// WithAutoCommit controls whether the engine completes the instant on the
// timeline after the index hooks succeed. On by default; turn it off when an
// outer coordinator finalizes the commit itself.
func WithAutoCommit(autoCommit bool) Option {
	return func(c *config) { c.autoCommit = autoCommit }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func defaultConfig() config {
	return config{
		workerConcurrency: runtime.GOMAXPROCS(0),
		autoCommit:        true,
		logger:            slog.Default(),
	}
}
