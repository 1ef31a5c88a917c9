package commit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

func newTestTimeline(t *testing.T) *timeline.Manager {
	t.Helper()
	store, err := timeline.OpenBoltStore(filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return timeline.NewManager(store, timeline.WithWriterID("writer-1"))
}

func requestedInstant(t *testing.T, tl *timeline.Manager) timeline.Instant {
	t.Helper()
	instant := timeline.NewInstant()
	require.NoError(t, tl.Request(instant))
	return instant
}

func updateRecord(key, partition, fileGroup string) record.Record {
	loc := record.FileGroupKey{FileGroupID: fileGroup, PartitionPath: partition}
	return record.Record{Key: key, PartitionPath: partition, Payload: []byte(`{"k":"` + key + `"}`), Location: &loc}
}

func insertRecord(key, partition string) record.Record {
	return record.Record{Key: key, PartitionPath: partition, Payload: []byte(`{"k":"` + key + `"}`)}
}

func TestEngineUpsertMixedBatch(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	bulk := NewMockBulkLoader()
	index := NewMockIndex()
	engine := NewEngine(tl, segments, bulk, index)

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		updateRecord("r2", "p1", "fg1"),
		updateRecord("r3", "p1", "fg1"),
		insertRecord("r4", "p1"),
		insertRecord("r5", "p1"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Statuses, 2)

	appendStatus := result.Statuses[0]
	assert.Equal(t, record.TargetAppend, appendStatus.Kind)
	assert.Equal(t, record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"}, appendStatus.Target)
	assert.Equal(t, 3, appendStatus.NumWritten())

	bulkStatus := result.Statuses[1]
	assert.Equal(t, record.TargetBulkInsert, bulkStatus.Kind)
	assert.Equal(t, 2, bulkStatus.NumWritten())

	assert.Equal(t, 5, result.TotalWritten())
	assert.Equal(t, 0, result.TotalFailed())

	// appends preserve batch order within the group
	appended := segments.Appended(record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"})
	require.Len(t, appended, 3)
	assert.Equal(t, "r1", appended[0].Key)
	assert.Equal(t, "r3", appended[2].Key)

	// inserts reached the index with their new location
	loc, ok := index.Location("r4")
	require.True(t, ok)
	assert.Equal(t, "mock-new-fg", loc.FileGroupID)

	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)
}

func TestEngineUpsertEmptyInsertSetSkipsBulkLoader(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	bulk := NewMockBulkLoader()
	engine := NewEngine(tl, segments, bulk, NewMockIndex())

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		updateRecord("r2", "p2", "fg2"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Statuses, 2)
	assert.Equal(t, 0, bulk.Calls())
	for _, status := range result.Statuses {
		assert.Equal(t, record.TargetAppend, status.Kind)
	}
}

func TestEngineUpsertStatusOrderFollowsGroupOrder(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	engine := NewEngine(tl, segments, NewMockBulkLoader(), NewMockIndex(),
		WithWorkerConcurrency(2))

	instant := requestedInstant(t, tl)
	var batch []record.Record
	for i := 0; i < 6; i++ {
		batch = append(batch, updateRecord(fmt.Sprintf("r%d", i), "p1", fmt.Sprintf("fg%d", i)))
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.NoError(t, err)
	require.Len(t, result.Statuses, 6)
	for i, status := range result.Statuses {
		assert.Equal(t, fmt.Sprintf("fg%d", i), status.Target.FileGroupID)
	}
}

func TestEngineUpsertFatalAppendFault(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	target := record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"}
	segments.SetAppendError(target, errors.New("disk gone"))
	index := NewMockIndex()
	engine := NewEngine(tl, segments, NewMockBulkLoader(), index)

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		insertRecord("r2", "p1"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.Error(t, err)
	assert.False(t, result.Success)

	var upsertErr *UpsertExecutionError
	require.ErrorAs(t, err, &upsertErr)
	assert.Equal(t, instant, upsertErr.Instant)
	assert.ErrorIs(t, err, ErrUpsertFailed)

	// no index hook fires on a fatal write fault
	assert.Empty(t, index.CallOrder())

	// the instant stays INFLIGHT for retry, never COMPLETED or FAILED
	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateInflight, state)
}

func TestEngineUpsertSurvivingStatusesOnSiblingFault(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	segments.SetAppendError(record.FileGroupKey{FileGroupID: "fg2", PartitionPath: "p1"}, errors.New("torn page"))
	engine := NewEngine(tl, segments, NewMockBulkLoader(), NewMockIndex())

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		updateRecord("r2", "p1", "fg2"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.Error(t, err)
	assert.False(t, result.Success)

	// the healthy sibling still finished and its status is reported
	require.Len(t, result.Statuses, 1)
	assert.Equal(t, "fg1", result.Statuses[0].Target.FileGroupID)
	assert.Equal(t, 1, result.Statuses[0].NumWritten())
}

func TestEngineUpsertRejectedRecordIsNotFatal(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	segments.RejectKey("r2", fmt.Errorf("schema mismatch: %w", record.ErrRecordRejected))
	engine := NewEngine(tl, segments, NewMockBulkLoader(), NewMockIndex())

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		updateRecord("r2", "p1", "fg1"),
		updateRecord("r3", "p1", "fg1"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Statuses, 1)
	assert.Equal(t, 2, result.Statuses[0].NumWritten())
	require.Len(t, result.Statuses[0].Failures, 1)
	assert.Equal(t, "r2", result.Statuses[0].Failures[0].Key)
	assert.ErrorIs(t, result.Statuses[0].Failures[0].Err, record.ErrRecordRejected)

	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)
}

func TestEngineUpsertRequiresRequestedInstant(t *testing.T) {
	tl := newTestTimeline(t)
	engine := NewEngine(tl, NewMockSegmentWriter(), NewMockBulkLoader(), NewMockIndex())

	_, err := engine.Upsert(context.Background(), timeline.NewInstant(), nil)
	require.Error(t, err)

	var upsertErr *UpsertExecutionError
	require.ErrorAs(t, err, &upsertErr)
	var stateErr *timeline.TimelineStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestEngineUpsertIndexHookOrder(t *testing.T) {
	tl := newTestTimeline(t)
	index := NewMockIndex()
	engine := NewEngine(tl, NewMockSegmentWriter(), NewMockBulkLoader(), index)

	instant := requestedInstant(t, tl)
	_, err := engine.Upsert(context.Background(), instant, []record.Record{insertRecord("r1", "p1")})
	require.NoError(t, err)

	require.Equal(t, []string{"updateIndex", "updateIndexAndCommitIfNeeded"}, index.CallOrder())
}

func TestEngineUpsertIndexFaultKeepsInstantInflight(t *testing.T) {
	tl := newTestTimeline(t)
	index := NewMockIndex()
	index.SetCommitError(errors.New("index backend down"))
	engine := NewEngine(tl, NewMockSegmentWriter(), NewMockBulkLoader(), index)

	instant := requestedInstant(t, tl)
	result, err := engine.Upsert(context.Background(), instant, []record.Record{insertRecord("r1", "p1")})
	require.Error(t, err)
	assert.False(t, result.Success)

	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateInflight, state)
}

func TestEngineUpsertAutoCommitDisabled(t *testing.T) {
	tl := newTestTimeline(t)
	engine := NewEngine(tl, NewMockSegmentWriter(), NewMockBulkLoader(), NewMockIndex(),
		WithAutoCommit(false))

	instant := requestedInstant(t, tl)
	result, err := engine.Upsert(context.Background(), instant, []record.Record{updateRecord("r1", "p1", "fg1")})
	require.NoError(t, err)
	assert.True(t, result.Success)

	// the caller finalizes explicitly
	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateInflight, state)

	require.NoError(t, tl.Complete(instant, commitMetadata(result)))
	state, err = tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)
}

func TestEngineUpsertFailFastCancelsSiblings(t *testing.T) {
	tl := newTestTimeline(t)
	segments := NewMockSegmentWriter()
	segments.SetOpenError(record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"}, errors.New("open fault"))
	bulk := NewMockBulkLoader()
	bulk.BlockUntilCancelled()
	engine := NewEngine(tl, segments, bulk, NewMockIndex(),
		WithFailFast(true), WithWorkerConcurrency(4))

	instant := requestedInstant(t, tl)
	batch := []record.Record{
		updateRecord("r1", "p1", "fg1"),
		insertRecord("r2", "p1"),
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.Error(t, err)
	assert.False(t, result.Success)

	var upsertErr *UpsertExecutionError
	require.ErrorAs(t, err, &upsertErr)
	assert.Equal(t, "open fault", upsertErr.Unwrap().Error())
}

func TestEngineUpsertDoesNotRewrapExecutionError(t *testing.T) {
	tl := newTestTimeline(t)
	bulk := NewMockBulkLoader()
	inner := &UpsertExecutionError{Instant: "inner-instant", Err: errors.New("nested")}
	bulk.SetError(inner)
	engine := NewEngine(tl, NewMockSegmentWriter(), bulk, NewMockIndex())

	instant := requestedInstant(t, tl)
	_, err := engine.Upsert(context.Background(), instant, []record.Record{insertRecord("r1", "p1")})
	require.Error(t, err)

	var upsertErr *UpsertExecutionError
	require.ErrorAs(t, err, &upsertErr)
	assert.Equal(t, timeline.Instant("inner-instant"), upsertErr.Instant)
}

func TestEngineUpsertEmptyBatch(t *testing.T) {
	tl := newTestTimeline(t)
	bulk := NewMockBulkLoader()
	engine := NewEngine(tl, NewMockSegmentWriter(), bulk, NewMockIndex())

	instant := requestedInstant(t, tl)
	result, err := engine.Upsert(context.Background(), instant, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Statuses)
	assert.Equal(t, 0, bulk.Calls())

	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)
}
