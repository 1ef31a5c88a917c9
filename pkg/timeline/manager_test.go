package timeline_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/mortable/pkg/timeline"
)

func newTestStore(t *testing.T) *timeline.BoltStore {
	t.Helper()
	store, err := timeline.OpenBoltStore(filepath.Join(t.TempDir(), "instants.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestManager_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	instant := timeline.Instant("20260101000000001")
	require.NoError(t, mgr.Request(instant))

	state, err := mgr.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateRequested, state)

	require.NoError(t, mgr.BeginInflight(instant))
	state, err = mgr.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateInflight, state)

	meta := timeline.CommitMetadata{
		Statuses:     []timeline.StatusMetadata{{FileGroupID: "fg1", PartitionPath: "p1", Written: 3}},
		TotalWritten: 3,
	}
	require.NoError(t, mgr.Complete(instant, meta))

	state, err = mgr.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)

	persisted, err := mgr.Metadata(instant)
	require.NoError(t, err)
	require.Contains(t, persisted, "w1")
	assert.Equal(t, 3, persisted["w1"].TotalWritten)
}

func TestManager_BeginInflight_GuardsState(t *testing.T) {
	store := newTestStore(t)
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	instant := timeline.Instant("20260101000000002")

	// never requested
	err := mgr.BeginInflight(instant)
	var stateErr *timeline.TimelineStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, timeline.StateUnknown, stateErr.State)
	assert.True(t, errors.Is(err, timeline.ErrInvalidTransition))

	// already inflight
	require.NoError(t, mgr.Request(instant))
	require.NoError(t, mgr.BeginInflight(instant))
	err = mgr.BeginInflight(instant)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, timeline.StateInflight, stateErr.State)
}

func TestManager_BeginInflight_MultiWriter(t *testing.T) {
	store := newTestStore(t)
	instant := timeline.Instant("20260101000000003")

	w1 := timeline.NewManager(store,
		timeline.WithWriterID("w1"),
		timeline.WithAllowMultiWriterSameInstant(true))
	w2 := timeline.NewManager(store,
		timeline.WithWriterID("w2"),
		timeline.WithAllowMultiWriterSameInstant(true))

	require.NoError(t, w1.Request(instant))
	require.NoError(t, w1.BeginInflight(instant))
	require.NoError(t, w2.BeginInflight(instant), "second writer tolerated on same instant")

	require.NoError(t, w1.Complete(instant, timeline.CommitMetadata{TotalWritten: 1}))
	require.NoError(t, w2.Complete(instant, timeline.CommitMetadata{TotalWritten: 2}))

	meta, err := w1.Metadata(instant)
	require.NoError(t, err)
	assert.Equal(t, 1, meta["w1"].TotalWritten)
	assert.Equal(t, 2, meta["w2"].TotalWritten)
}

func TestManager_Complete_RequiresInflight(t *testing.T) {
	store := newTestStore(t)
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	instant := timeline.Instant("20260101000000004")
	require.NoError(t, mgr.Request(instant))

	err := mgr.Complete(instant, timeline.CommitMetadata{})
	var stateErr *timeline.TimelineStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, timeline.StateRequested, stateErr.State)
	assert.Equal(t, timeline.StateCompleted, stateErr.Attempted)
}

func TestManager_TransitionsAreMonotonic(t *testing.T) {
	store := newTestStore(t)
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	instant := timeline.Instant("20260101000000005")
	require.NoError(t, mgr.Request(instant))
	require.NoError(t, mgr.BeginInflight(instant))
	require.NoError(t, mgr.Complete(instant, timeline.CommitMetadata{}))

	var stateErr *timeline.TimelineStateError
	assert.ErrorAs(t, mgr.BeginInflight(instant), &stateErr)
	assert.ErrorAs(t, mgr.Request(instant), &stateErr)
	assert.ErrorAs(t, mgr.MarkFailed(instant, "too late"), &stateErr)
}

// faultStore wraps a Store and fails every Update after the fuse burns,
// simulating a persistence fault at completion time.
type faultStore struct {
	timeline.Store
	failAfter int
	calls     int
}

func (s *faultStore) Update(instant timeline.Instant, fn func(*timeline.InstantRecord) (*timeline.InstantRecord, error)) error {
	s.calls++
	if s.calls > s.failAfter {
		return errors.New("disk unavailable")
	}
	return s.Store.Update(instant, fn)
}

func TestManager_Complete_PersistFault_StaysInflight(t *testing.T) {
	inner := newTestStore(t)
	store := &faultStore{Store: inner, failAfter: 2}
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	instant := timeline.Instant("20260101000000006")
	require.NoError(t, mgr.Request(instant))
	require.NoError(t, mgr.BeginInflight(instant))

	err := mgr.Complete(instant, timeline.CommitMetadata{TotalWritten: 1})
	var persistErr *timeline.CommitPersistError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, instant, persistErr.Instant)
	assert.True(t, errors.Is(err, timeline.ErrCommitPersist))

	state, stateReadErr := mgr.State(instant)
	require.NoError(t, stateReadErr)
	assert.Equal(t, timeline.StateInflight, state, "instant must remain INFLIGHT for recovery")
}

func TestBoltStore_Instants_TimelineOrder(t *testing.T) {
	store := newTestStore(t)
	mgr := timeline.NewManager(store, timeline.WithWriterID("w1"))

	for _, id := range []string{"20260101000000009", "20260101000000007", "20260101000000008"} {
		require.NoError(t, mgr.Request(timeline.Instant(id)))
	}

	instants, err := store.Instants()
	require.NoError(t, err)
	require.Len(t, instants, 3)
	assert.Equal(t, timeline.Instant("20260101000000007"), instants[0])
	assert.Equal(t, timeline.Instant("20260101000000009"), instants[2])
}
