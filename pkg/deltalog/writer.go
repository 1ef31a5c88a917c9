package deltalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/unijord/mortable/pkg/commit"
	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/schema"
	"github.com/unijord/mortable/pkg/timeline"
)

// Writer opens delta append segments for the commit engine. One Writer serves
// one table directory; each OpenSegment call yields an independent handle
// owned by exactly one writer task.
type Writer struct {
	dir        string
	segmentCap int64
	syncOption MsyncOption
	validator  schema.Validator
	logger     *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterSegmentCapacity sets the capacity of segments the writer opens.
func WithWriterSegmentCapacity(size int64) WriterOption {
	return func(w *Writer) {
		if size > 0 {
			w.segmentCap = size
		}
	}
}

// WithWriterSyncOption sets the msync behavior of opened segments.
func WithWriterSyncOption(opt MsyncOption) WriterOption {
	return func(w *Writer) { w.syncOption = opt }
}

// WithValidator sets the per-record payload validator. Defaults to accepting
// everything.
func WithValidator(v schema.Validator) WriterOption {
	return func(w *Writer) {
		if v != nil {
			w.validator = v
		}
	}
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a delta log writer rooted at dir.
func NewWriter(dir string, opts ...WriterOption) *Writer {
	w := &Writer{
		dir:        dir,
		segmentCap: defaultSegmentCap,
		syncOption: MsyncNone,
		validator:  schema.NoopValidator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "deltalog")
	return w
}

// OpenSegment opens the append segment for (target, instant) and returns the
// handle the engine appends through. Open faults are fatal for the commit.
func (w *Writer) OpenSegment(ctx context.Context, target record.FileGroupKey, instant timeline.Instant) (commit.LogSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := SegmentFileName(w.dir, target.PartitionPath, target.FileGroupID, instant.String())
	seg, err := OpenSegment(path,
		WithSegmentCapacity(w.segmentCap),
		WithSyncOption(w.syncOption))
	if err != nil {
		return nil, err
	}

	w.logger.Debug("opened delta segment",
		"file_group", target.FileGroupID,
		"partition", target.PartitionPath,
		"instant", instant.String())

	return &AppendHandle{
		seg:       seg,
		validator: w.validator,
		status: record.WriteStatus{
			Target: target,
			Kind:   record.TargetAppend,
		},
	}, nil
}

// AppendHandle appends one record group to one delta segment and accumulates
// the group's WriteStatus. Not safe for concurrent use; each handle belongs
// to a single task.
type AppendHandle struct {
	seg       *Segment
	validator schema.Validator
	status    record.WriteStatus
	closed    bool
}

// Append validates and writes one record. A per-record validation failure is
// recorded in the handle's status and does not abort the group; any other
// error is a fatal fault the caller must propagate.
func (h *AppendHandle) Append(rec record.Record) error {
	if err := h.validator.Validate(rec.Payload); err != nil {
		if errors.Is(err, record.ErrRecordRejected) {
			h.status.Failures = append(h.status.Failures, record.RecordFailure{Key: rec.Key, Err: err})
			return nil
		}
		return err
	}

	entry, err := EncodeEntry(rec.Key, rec.Payload)
	if err != nil {
		// unframeable record: reject it rather than abort the group
		h.status.Failures = append(h.status.Failures, record.RecordFailure{Key: rec.Key, Err: err})
		return nil
	}

	if _, err := h.seg.Append(entry); err != nil {
		return err
	}

	h.status.Written = append(h.status.Written, record.KeyLocation{Key: rec.Key, Location: h.status.Target})
	return nil
}

// Close seals and closes the segment and returns the group's WriteStatus.
// A close fault is fatal for the whole commit.
func (h *AppendHandle) Close() (record.WriteStatus, error) {
	if h.closed {
		return h.status, nil
	}
	h.closed = true

	h.status.Bytes = h.seg.WriteOffset() - segmentHeaderSize

	if err := h.seg.Seal(); err != nil {
		_ = h.seg.Close()
		return h.status, err
	}
	if err := h.seg.Close(); err != nil {
		return h.status, err
	}
	return h.status, nil
}

var _ commit.SegmentWriter = (*Writer)(nil)
var _ commit.LogSegment = (*AppendHandle)(nil)
