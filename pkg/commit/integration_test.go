package commit_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/mortable/pkg/bulkload"
	"github.com/unijord/mortable/pkg/commit"
	"github.com/unijord/mortable/pkg/deltalog"
	"github.com/unijord/mortable/pkg/index"
	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

// Full stack: bolt timeline, mmap delta segments, bulk loader and sharded
// index, driven through one Upsert.
func TestEngineUpsertEndToEnd(t *testing.T) {
	tableDir := t.TempDir()

	store, err := timeline.OpenBoltStore(filepath.Join(tableDir, "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	tl := timeline.NewManager(store, timeline.WithWriterID("writer-1"))

	segments := deltalog.NewWriter(tableDir)
	loader := bulkload.NewLoader(tableDir,
		bulkload.WithFileGroupIDAllocator(func() string { return "fresh-fg" }))
	idx := index.NewShardedIndex()

	engine := commit.NewEngine(tl, segments, loader, idx)

	instant := timeline.NewInstant()
	require.NoError(t, tl.Request(instant))

	fg1 := record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "2026-08-26"}
	batch := []record.Record{
		{Key: "u1", PartitionPath: fg1.PartitionPath, Payload: []byte(`{"v":1}`), Location: &fg1},
		{Key: "u2", PartitionPath: fg1.PartitionPath, Payload: []byte(`{"v":2}`), Location: &fg1},
		{Key: "n1", PartitionPath: fg1.PartitionPath, Payload: []byte(`{"v":3}`)},
	}

	result, err := engine.Upsert(context.Background(), instant, batch)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Statuses, 2)
	assert.Equal(t, 3, result.TotalWritten())

	// delta segment landed on disk, sealed, with both updates in order
	scan, err := deltalog.Scan(deltalog.SegmentFileName(tableDir, fg1.PartitionPath, fg1.FileGroupID, instant.String()))
	require.NoError(t, err)
	assert.True(t, scan.Sealed)
	assert.False(t, scan.Torn)
	require.Len(t, scan.Entries, 2)
	assert.Equal(t, "u1", scan.Entries[0].Key)
	assert.Equal(t, "u2", scan.Entries[1].Key)

	// the insert gained its new file group in the index
	loc, ok := idx.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "fresh-fg", loc.FileGroupID)

	loc, ok = idx.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "fg1", loc.FileGroupID)

	// instant completed with this writer's commit metadata
	state, err := tl.State(instant)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, state)

	meta, err := tl.Metadata(instant)
	require.NoError(t, err)
	require.Contains(t, meta, "writer-1")
	assert.Equal(t, 3, meta["writer-1"].TotalWritten)
	assert.Equal(t, 0, meta["writer-1"].TotalFailed)
}
