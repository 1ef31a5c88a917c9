package index

import (
	"errors"
	"fmt"
)

// ErrIndexUpdate is the sentinel every IndexUpdateError wraps.
var ErrIndexUpdate = errors.New("index update failed")

// IndexUpdateError is fatal after writes succeeded: the data files exist but
// the key → location mapping (or the commit it gates) was never advanced.
// Recovery is an idempotent retry of commit finalization from the
// already-written file groups.
type IndexUpdateError struct {
	Err error
}

func (e *IndexUpdateError) Error() string {
	return fmt.Sprintf("index update failed: %v", e.Err)
}

func (e *IndexUpdateError) Unwrap() error { return e.Err }

// Is matches the ErrIndexUpdate sentinel in addition to the wrapped chain.
func (e *IndexUpdateError) Is(target error) bool { return target == ErrIndexUpdate }
