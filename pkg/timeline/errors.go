package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is the sentinel every TimelineStateError wraps.
	ErrInvalidTransition = errors.New("invalid timeline transition")

	// ErrCommitPersist is the sentinel every CommitPersistError wraps.
	ErrCommitPersist = errors.New("commit metadata could not be persisted")
)

// TimelineStateError reports an attempted lifecycle transition from a state
// that does not permit it.
type TimelineStateError struct {
	Instant   Instant
	State     State
	Attempted State
}

func (e *TimelineStateError) Error() string {
	return fmt.Sprintf("instant %s is %s, cannot transition to %s",
		e.Instant, e.State, e.Attempted)
}

func (e *TimelineStateError) Unwrap() error { return ErrInvalidTransition }

// CommitPersistError reports that the COMPLETED flip and its metadata could
// not be durably recorded. The instant remains INFLIGHT so recovery can
// resume finalization.
type CommitPersistError struct {
	Instant Instant
	Err     error
}

func (e *CommitPersistError) Error() string {
	return fmt.Sprintf("persist commit for instant %s: %v", e.Instant, e.Err)
}

func (e *CommitPersistError) Unwrap() error { return ErrCommitPersist }
