// Package commit implements the upsert commit engine: it partitions a prepped
// batch, fans the per-file-group update groups and the bulk-insert set out to
// a bounded worker pool, joins the write statuses into one CommitResult and
// drives the instant through its lifecycle. The physical log encoding, the
// bulk sizing policy and the index internals live behind injected
// collaborators.
package commit

import (
	"context"

	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

// LogSegment is one open append target. A per-record validation failure is
// recorded inside the handle's status and Append returns nil; any non-nil
// error from Append or Close is a fatal fault that aborts the commit.
type LogSegment interface {
	Append(rec record.Record) error
	Close() (record.WriteStatus, error)
}

// SegmentWriter opens the append-only log segment scoped to one file group,
// one partition and one instant. I/O waits and retry policy are the
// implementation's own business; the engine retries nothing.
type SegmentWriter interface {
	OpenSegment(ctx context.Context, target record.FileGroupKey, instant timeline.Instant) (LogSegment, error)
}

// BulkLoader writes the insert set into brand new file groups, split per its
// own sizing policy, and returns one WriteStatus per created group. It must
// never touch an existing file group: its target set stays disjoint from
// every append task by construction.
type BulkLoader interface {
	BulkInsert(ctx context.Context, inserts record.InsertSet, instant timeline.Instant) ([]record.WriteStatus, error)
}

// Index is the key → location boundary, invoked in order only after all
// writes succeed. Both hooks are opaque to the engine; a failure from either
// is fatal (data files exist but are unindexed, recovery is an idempotent
// retry of commit finalization).
type Index interface {
	UpdateIndex(statuses []record.WriteStatus, result *record.CommitResult) error
	UpdateIndexAndCommitIfNeeded(statuses []record.WriteStatus, result *record.CommitResult) error
}
