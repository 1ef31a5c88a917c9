package commit

import (
	"errors"
	"fmt"

	"github.com/unijord/mortable/pkg/timeline"
)

// ErrUpsertFailed is the sentinel every UpsertExecutionError wraps.
var ErrUpsertFailed = errors.New("upsert commit failed")

// UpsertExecutionError wraps every fatal fault leaving the engine, annotated
// with the instant it belongs to. The root cause is reachable through
// errors.As / errors.Is.
type UpsertExecutionError struct {
	Instant timeline.Instant
	Err     error
}

func (e *UpsertExecutionError) Error() string {
	return fmt.Sprintf("upsert for instant %s failed: %v", e.Instant, e.Err)
}

func (e *UpsertExecutionError) Unwrap() error { return e.Err }

// Is matches the ErrUpsertFailed sentinel in addition to the wrapped chain.
func (e *UpsertExecutionError) Is(target error) bool { return target == ErrUpsertFailed }

// wrapFatal annotates err with the instant, unless it already is an
// UpsertExecutionError raised by a collaborator: those pass through as-is
// so causes are never double-wrapped.
func wrapFatal(instant timeline.Instant, err error) error {
	var execErr *UpsertExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &UpsertExecutionError{Instant: instant, Err: err}
}
