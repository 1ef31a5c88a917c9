package timeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager drives instant lifecycle transitions against a Store. Transitions
// for one writer process run under a single critical section; mutual
// exclusion across processes is the job of an external lock collaborator.
type Manager struct {
	store            Store
	writerID         string
	allowMultiWriter bool
	logger           *slog.Logger

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithWriterID sets the writer identity recorded on the instants this
// manager transitions. Defaults to a random id.
func WithWriterID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.writerID = id
		}
	}
}

// WithAllowMultiWriterSameInstant tolerates concurrent REQUESTED→INFLIGHT
// transitions by distinct writers on the same instant. Each writer's
// metadata stays separately tracked on the instant record.
func WithAllowMultiWriterSameInstant(allow bool) Option {
	return func(m *Manager) { m.allowMultiWriter = allow }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a timeline manager on top of store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		writerID: uuid.NewString(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "timeline")
	return m
}

// WriterID returns the writer identity this manager stamps on instants.
func (m *Manager) WriterID() string { return m.writerID }

// Request registers a new instant in REQUESTED state. Registering an instant
// that already exists is a TimelineStateError.
func (m *Manager) Request(instant Instant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Update(instant, func(rec *InstantRecord) (*InstantRecord, error) {
		if rec != nil {
			return nil, &TimelineStateError{Instant: instant, State: rec.State, Attempted: StateRequested}
		}
		return &InstantRecord{
			State:       StateRequested,
			RequestedAt: time.Now().UnixMicro(),
		}, nil
	})
	if err != nil {
		return m.classify(instant, err)
	}

	m.logger.Info("instant requested", "instant", instant.String())
	return nil
}

// BeginInflight transitions REQUESTED→INFLIGHT. An instant that is not
// REQUESTED fails with a TimelineStateError, unless multi-writer-same-instant
// is allowed, in which case an already-INFLIGHT instant admits this writer
// as an additional participant.
func (m *Manager) BeginInflight(instant Instant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Update(instant, func(rec *InstantRecord) (*InstantRecord, error) {
		switch {
		case rec == nil:
			return nil, &TimelineStateError{Instant: instant, State: StateUnknown, Attempted: StateInflight}

		case rec.State == StateRequested:
			rec.State = StateInflight
			rec.InflightAt = time.Now().UnixMicro()
			rec.Writers = append(rec.Writers, m.writerID)
			return rec, nil

		case rec.State == StateInflight && m.allowMultiWriter:
			if !rec.hasWriter(m.writerID) {
				rec.Writers = append(rec.Writers, m.writerID)
			}
			return rec, nil

		default:
			return nil, &TimelineStateError{Instant: instant, State: rec.State, Attempted: StateInflight}
		}
	})
	if err != nil {
		return m.classify(instant, err)
	}

	m.logger.Info("instant inflight", "instant", instant.String(), "writer", m.writerID)
	return nil
}

// Complete transitions INFLIGHT→COMPLETED, persisting meta as this writer's
// commit metadata. The state flip and the metadata write land in one store
// transaction: they succeed together or neither happens. On a persistence
// fault the instant remains INFLIGHT and a CommitPersistError is returned so
// recovery can resume finalization.
func (m *Manager) Complete(instant Instant, meta CommitMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Update(instant, func(rec *InstantRecord) (*InstantRecord, error) {
		switch {
		case rec == nil:
			return nil, &TimelineStateError{Instant: instant, State: StateUnknown, Attempted: StateCompleted}

		case rec.State == StateInflight:
			rec.State = StateCompleted
			rec.CompletedAt = time.Now().UnixMicro()

		case rec.State == StateCompleted && m.allowMultiWriter:
			// another writer finalized first; just contribute metadata

		default:
			return nil, &TimelineStateError{Instant: instant, State: rec.State, Attempted: StateCompleted}
		}

		if rec.Metadata == nil {
			rec.Metadata = make(map[string]CommitMetadata)
		}
		rec.Metadata[m.writerID] = meta
		return rec, nil
	})
	if err != nil {
		return m.classify(instant, err)
	}

	m.logger.Info("instant completed",
		"instant", instant.String(),
		"writer", m.writerID,
		"written", meta.TotalWritten,
		"failed", meta.TotalFailed)
	return nil
}

// MarkFailed transitions an INFLIGHT instant to the terminal FAILED state.
// The commit engine never calls this on write faults (the instant must stay
// INFLIGHT for retry); it exists for callers that abandon an attempt.
func (m *Manager) MarkFailed(instant Instant, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Update(instant, func(rec *InstantRecord) (*InstantRecord, error) {
		if rec == nil || (rec.State != StateInflight && rec.State != StateRequested) {
			state := StateUnknown
			if rec != nil {
				state = rec.State
			}
			return nil, &TimelineStateError{Instant: instant, State: state, Attempted: StateFailed}
		}
		rec.State = StateFailed
		rec.FailureReason = reason
		return rec, nil
	})
	if err != nil {
		return m.classify(instant, err)
	}

	m.logger.Warn("instant failed", "instant", instant.String(), "reason", reason)
	return nil
}

// State returns the lifecycle state of instant, StateUnknown when it was
// never requested.
func (m *Manager) State(instant Instant) (State, error) {
	rec, err := m.store.Get(instant)
	if err != nil {
		return StateUnknown, err
	}
	if rec == nil {
		return StateUnknown, nil
	}
	return rec.State, nil
}

// Metadata returns the per-writer commit metadata recorded for instant.
func (m *Manager) Metadata(instant Instant) (map[string]CommitMetadata, error) {
	rec, err := m.store.Get(instant)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &TimelineStateError{Instant: instant, State: StateUnknown, Attempted: StateCompleted}
	}
	return rec.Metadata, nil
}

// classify separates a rejected transition from a persistence fault: state
// errors pass through, everything else means the store could not durably
// apply the transition.
func (m *Manager) classify(instant Instant, err error) error {
	var stateErr *TimelineStateError
	if errors.As(err, &stateErr) {
		return err
	}
	return &CommitPersistError{Instant: instant, Err: err}
}
