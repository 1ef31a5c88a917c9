package commit

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

// Engine executes upsert commits. One Engine serves one table; Upsert may be
// called from multiple goroutines as long as each call uses its own instant
// (or multi-writer-same-instant is enabled on the timeline manager).
type Engine struct {
	timeline *timeline.Manager
	segments SegmentWriter
	bulk     BulkLoader
	index    Index
	cfg      config
	logger   *slog.Logger
}

// NewEngine wires a commit engine from its collaborators.
func NewEngine(tl *timeline.Manager, segments SegmentWriter, bulk BulkLoader, index Index, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		timeline: tl,
		segments: segments,
		bulk:     bulk,
		index:    index,
		cfg:      cfg,
		logger:   cfg.logger.With("component", "commit-engine"),
	}
}

// Timeline returns the engine's timeline manager.
func (e *Engine) Timeline() *timeline.Manager { return e.timeline }

// Upsert executes one commit: the instant (which must be REQUESTED on the
// timeline) transitions to INFLIGHT, the batch is routed into per-file-group
// update groups and an insert set, append and bulk-insert tasks run on a
// bounded pool, their statuses are joined, the index hooks fire and the
// instant completes.
//
// On a fatal fault the returned CommitResult has Success=false, the error is
// an *UpsertExecutionError carrying the instant id and root cause, and the
// instant never reaches COMPLETED; it stays INFLIGHT so the caller can retry
// finalization. The engine performs no internal retries.
func (e *Engine) Upsert(ctx context.Context, instant timeline.Instant, batch []record.Record) (record.CommitResult, error) {
	logger := e.logger.With("instant", instant.String())

	if err := e.timeline.BeginInflight(instant); err != nil {
		return record.CommitResult{Success: false}, wrapFatal(instant, err)
	}

	groups, inserts := record.Route(batch)
	logger.Info("batch routed",
		"records", len(batch),
		"update_groups", groups.Len(),
		"updates", groups.Records(),
		"inserts", len(inserts))

	result, err := e.write(ctx, instant, groups, inserts, logger)
	if err != nil {
		logger.Error("upsert failed", "phase", PhaseWriting.String(), "error", err)
		return result, wrapFatal(instant, err)
	}

	if err := e.index.UpdateIndex(result.Statuses, &result); err != nil {
		result.Success = false
		logger.Error("upsert failed", "phase", PhaseIndexing.String(), "error", err)
		return result, wrapFatal(instant, err)
	}
	if err := e.index.UpdateIndexAndCommitIfNeeded(result.Statuses, &result); err != nil {
		result.Success = false
		logger.Error("upsert failed", "phase", PhaseIndexing.String(), "error", err)
		return result, wrapFatal(instant, err)
	}

	if e.cfg.autoCommit {
		if err := e.timeline.Complete(instant, commitMetadata(result)); err != nil {
			logger.Error("upsert failed", "phase", PhaseCompleted.String(), "error", err)
			return result, wrapFatal(instant, err)
		}
	}

	logger.Info("upsert committed",
		"phase", PhaseCompleted.String(),
		"statuses", len(result.Statuses),
		"written", result.TotalWritten(),
		"rejected_records", result.TotalFailed())
	return result, nil
}

// write fans the update groups and the insert set out to the worker pool and
// joins their statuses. The join is a barrier: every dispatched task finishes
// (success or failure) before aggregation, so no task is abandoned with an
// unflushed segment — unless fail-fast is configured, in which case siblings
// are cancelled on the first fatal fault.
func (e *Engine) write(ctx context.Context, instant timeline.Instant, groups *record.RecordGroups, inserts record.InsertSet, logger *slog.Logger) (record.CommitResult, error) {
	var g *errgroup.Group
	taskCtx := ctx
	if e.cfg.failFast {
		g, taskCtx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	g.SetLimit(e.cfg.workerConcurrency)

	// one slot per group, written by exactly one task
	appendStatuses := make([]*record.WriteStatus, groups.Len())
	for i, key := range groups.Keys() {
		i, key := i, key
		recs := groups.Get(key)
		g.Go(func() error {
			status, err := e.writeGroup(taskCtx, key, recs, instant)
			if err != nil {
				logger.Error("append task failed",
					"file_group", key.FileGroupID,
					"partition", key.PartitionPath,
					"error", err)
				return err
			}
			appendStatuses[i] = &status
			return nil
		})
	}

	// the bulk loader only ever creates new file groups, so it can run
	// concurrently with every append task: target sets are disjoint by
	// construction.
	var bulkStatuses []record.WriteStatus
	if len(inserts) > 0 {
		g.Go(func() error {
			statuses, err := e.bulk.BulkInsert(taskCtx, inserts, instant)
			if err != nil {
				logger.Error("bulk insert task failed", "inserts", len(inserts), "error", err)
				return err
			}
			bulkStatuses = statuses
			return nil
		})
	}

	fatal := g.Wait()
	return aggregate(appendStatuses, bulkStatuses, fatal != nil), fatal
}

// writeGroup appends one record group to its delta segment in group order.
// The group is exclusively owned by this task until its status is returned.
func (e *Engine) writeGroup(ctx context.Context, target record.FileGroupKey, recs []record.Record, instant timeline.Instant) (record.WriteStatus, error) {
	empty := record.WriteStatus{Target: target, Kind: record.TargetAppend}

	seg, err := e.segments.OpenSegment(ctx, target, instant)
	if err != nil {
		return empty, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			// fail-fast cancellation; flush what was written so far
			_, _ = seg.Close()
			return empty, err
		}
		if err := seg.Append(rec); err != nil {
			_, _ = seg.Close()
			return empty, err
		}
	}

	return seg.Close()
}
