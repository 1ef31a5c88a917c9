package deltalog

import (
	"errors"
	"fmt"
)

// ErrSegmentIO is the sentinel every SegmentIOError wraps.
var ErrSegmentIO = errors.New("segment i/o fault")

// SegmentIOError is a fatal fault on a segment file: open, mmap, flush or
// close failed, or the header is corrupt. The engine performs no internal
// retries on these; the whole commit aborts.
type SegmentIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *SegmentIOError) Error() string {
	return fmt.Sprintf("segment %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *SegmentIOError) Unwrap() error { return ErrSegmentIO }

func ioErr(path, op string, err error) *SegmentIOError {
	return &SegmentIOError{Path: path, Op: op, Err: err}
}
