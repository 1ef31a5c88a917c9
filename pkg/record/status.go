package record

import "fmt"

// TargetKind says which write path produced a status.
type TargetKind uint8

const (
	// TargetAppend is a delta append to an existing file group.
	TargetAppend TargetKind = iota + 1

	// TargetBulkInsert is a newly created file group.
	TargetBulkInsert
)

func (t TargetKind) String() string {
	switch t {
	case TargetAppend:
		return "append"
	case TargetBulkInsert:
		return "bulk-insert"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// RecordFailure captures one per-record validation failure inside a status.
type RecordFailure struct {
	Key string
	Err error
}

func (f RecordFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

// WriteStatus is the outcome of writing one batch of records to one target.
// Exactly one file group key is attributable to it; Kind distinguishes an
// append to an existing group from a bulk-inserted new group.
type WriteStatus struct {
	Target FileGroupKey
	Kind   TargetKind

	// Written holds key → location bindings for records durably appended,
	// in write order. The index boundary consumes these.
	Written []KeyLocation

	// Failures lists the records rejected by per-record validation. These
	// never abort the task and never flip the commit's success flag.
	Failures []RecordFailure

	Bytes int64
}

// NumWritten returns the count of records written to the target.
func (s WriteStatus) NumWritten() int { return len(s.Written) }

// NumFailed returns the count of records rejected by validation.
func (s WriteStatus) NumFailed() int { return len(s.Failures) }

// CommitResult joins every task's WriteStatus into one ordered outcome.
// Append statuses come first in group-dispatch order, bulk-insert statuses
// after. Success is true iff no fatal failure occurred in any task; recorded
// per-record failures do not flip it.
type CommitResult struct {
	Statuses []WriteStatus
	Success  bool
}

// TotalWritten sums written records across all statuses.
func (r CommitResult) TotalWritten() int {
	n := 0
	for _, s := range r.Statuses {
		n += s.NumWritten()
	}
	return n
}

// TotalFailed sums validation-rejected records across all statuses.
func (r CommitResult) TotalFailed() int {
	n := 0
	for _, s := range r.Statuses {
		n += s.NumFailed()
	}
	return n
}
