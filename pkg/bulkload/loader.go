package bulkload

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/unijord/mortable/pkg/commit"
	"github.com/unijord/mortable/pkg/deltalog"
	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/schema"
	"github.com/unijord/mortable/pkg/timeline"
)

// Loader is the default bulk insert writer for one table directory. File
// group id allocation is the loader's own business and independent of any
// concurrent append task.
type Loader struct {
	dir        string
	policy     SizingPolicy
	segmentCap int64
	syncOption deltalog.MsyncOption
	validator  schema.Validator
	newGroupID func() string
	logger     *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSizingPolicy sets the file-group sizing policy.
func WithSizingPolicy(p SizingPolicy) LoaderOption {
	return func(l *Loader) {
		if p != nil {
			l.policy = p
		}
	}
}

// WithSegmentCapacity sets the capacity of the segments the loader creates.
func WithSegmentCapacity(size int64) LoaderOption {
	return func(l *Loader) {
		if size > 0 {
			l.segmentCap = size
		}
	}
}

// WithSyncOption sets the msync behavior of created segments.
func WithSyncOption(opt deltalog.MsyncOption) LoaderOption {
	return func(l *Loader) { l.syncOption = opt }
}

// WithValidator sets the per-record payload validator.
func WithValidator(v schema.Validator) LoaderOption {
	return func(l *Loader) {
		if v != nil {
			l.validator = v
		}
	}
}

// WithFileGroupIDAllocator overrides new file group id allocation.
// Defaults to random UUIDs, which cannot collide with ids already on disk.
func WithFileGroupIDAllocator(fn func() string) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.newGroupID = fn
		}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a bulk loader rooted at dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:        dir,
		policy:     DefaultCapacityPolicy(),
		segmentCap: 16 * 1024 * 1024,
		validator:  schema.NoopValidator{},
		newGroupID: uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "bulkload")
	return l
}

// BulkInsert partitions the insert set per partition path and sizing policy,
// writes each chunk into a brand new file group and returns one WriteStatus
// per created group. Per-record validation failures are recorded in the
// owning status; segment faults abort the whole operation.
func (l *Loader) BulkInsert(ctx context.Context, inserts record.InsertSet, instant timeline.Instant) ([]record.WriteStatus, error) {
	partitions, order := groupByPartition(inserts)

	var statuses []record.WriteStatus
	for _, partition := range order {
		for _, chunk := range l.policy.Split(partitions[partition]) {
			if len(chunk) == 0 {
				continue
			}
			status, err := l.writeFileGroup(ctx, partition, chunk, instant)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
	}

	l.logger.Info("bulk insert finished",
		"instant", instant.String(),
		"inserts", len(inserts),
		"new_file_groups", len(statuses))
	return statuses, nil
}

func (l *Loader) writeFileGroup(ctx context.Context, partition string, recs record.InsertSet, instant timeline.Instant) (record.WriteStatus, error) {
	target := record.FileGroupKey{
		FileGroupID:   l.newGroupID(),
		PartitionPath: partition,
	}
	status := record.WriteStatus{Target: target, Kind: record.TargetBulkInsert}

	path := deltalog.SegmentFileName(l.dir, partition, target.FileGroupID, instant.String())
	seg, err := deltalog.OpenSegment(path,
		deltalog.WithSegmentCapacity(l.segmentCap),
		deltalog.WithSyncOption(l.syncOption))
	if err != nil {
		return status, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			_ = seg.Close()
			return status, err
		}

		if err := l.validator.Validate(rec.Payload); err != nil {
			if errors.Is(err, record.ErrRecordRejected) {
				status.Failures = append(status.Failures, record.RecordFailure{Key: rec.Key, Err: err})
				continue
			}
			_ = seg.Close()
			return status, err
		}

		entry, err := deltalog.EncodeEntry(rec.Key, rec.Payload)
		if err != nil {
			status.Failures = append(status.Failures, record.RecordFailure{Key: rec.Key, Err: err})
			continue
		}
		if _, err := seg.Append(entry); err != nil {
			_ = seg.Close()
			return status, err
		}
		status.Written = append(status.Written, record.KeyLocation{Key: rec.Key, Location: target})
	}

	status.Bytes = seg.WriteOffset() - deltalog.HeaderSize
	if err := seg.Seal(); err != nil {
		_ = seg.Close()
		return status, err
	}
	if err := seg.Close(); err != nil {
		return status, err
	}
	return status, nil
}

// groupByPartition buckets inserts per partition path, preserving first-sight
// partition order so bulk statuses stay deterministic for a given batch.
func groupByPartition(inserts record.InsertSet) (map[string]record.InsertSet, []string) {
	parts := make(map[string]record.InsertSet)
	var order []string
	for _, rec := range inserts {
		if _, ok := parts[rec.PartitionPath]; !ok {
			order = append(order, rec.PartitionPath)
		}
		parts[rec.PartitionPath] = append(parts[rec.PartitionPath], rec)
	}
	return parts, order
}

var _ commit.BulkLoader = (*Loader)(nil)
