package index_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/mortable/pkg/index"
	"github.com/unijord/mortable/pkg/record"
)

func TestShardedIndex_PutGet(t *testing.T) {
	idx := index.NewShardedIndex()

	loc := record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"}
	idx.Put("k1", loc)

	got, ok := idx.Get("k1")
	require.True(t, ok)
	assert.Equal(t, loc, got)

	_, ok = idx.Get("missing")
	assert.False(t, ok)

	// overwrite keeps size stable
	idx.Put("k1", record.FileGroupKey{FileGroupID: "fg2", PartitionPath: "p1"})
	assert.Equal(t, int64(1), idx.Len())
}

func TestShardedIndex_ConcurrentPuts(t *testing.T) {
	idx := index.NewShardedIndex()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				idx.Put(key, record.FileGroupKey{FileGroupID: "fg", PartitionPath: "p"})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(8*500), idx.Len())
}

func TestShardedIndex_UpdateIndex(t *testing.T) {
	idx := index.NewShardedIndex()

	fg1 := record.FileGroupKey{FileGroupID: "fg1", PartitionPath: "p1"}
	fgNew := record.FileGroupKey{FileGroupID: "fg-new", PartitionPath: "p1"}
	statuses := []record.WriteStatus{
		{
			Target: fg1, Kind: record.TargetAppend,
			Written: []record.KeyLocation{{Key: "r1", Location: fg1}, {Key: "r2", Location: fg1}},
		},
		{
			Target: fgNew, Kind: record.TargetBulkInsert,
			Written: []record.KeyLocation{{Key: "r4", Location: fgNew}},
		},
	}

	result := record.CommitResult{Statuses: statuses, Success: true}
	require.NoError(t, idx.UpdateIndex(statuses, &result))

	got, ok := idx.Get("r4")
	require.True(t, ok)
	assert.Equal(t, fgNew, got, "fresh inserts gain their new location")

	got, ok = idx.Get("r1")
	require.True(t, ok)
	assert.Equal(t, fg1, got)
}

func TestShardedIndex_CommitHook(t *testing.T) {
	called := 0
	idx := index.NewShardedIndex(index.WithCommitHook(func(result *record.CommitResult) error {
		called++
		return nil
	}))

	result := record.CommitResult{Success: true}
	require.NoError(t, idx.UpdateIndexAndCommitIfNeeded(nil, &result))
	assert.Equal(t, 1, called)
}

func TestShardedIndex_CommitHookFailure(t *testing.T) {
	idx := index.NewShardedIndex(index.WithCommitHook(func(result *record.CommitResult) error {
		return errors.New("commit backend down")
	}))

	err := idx.UpdateIndexAndCommitIfNeeded(nil, &record.CommitResult{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, index.ErrIndexUpdate))

	var updErr *index.IndexUpdateError
	require.ErrorAs(t, err, &updErr)
	assert.EqualError(t, updErr.Err, "commit backend down")
}
