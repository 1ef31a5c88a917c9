// Package index provides the default key → location index behind the commit
// engine's index boundary: a sharded, concurrency-safe ordered map. Shards
// keep lock contention down when many append tasks report at once; each shard
// holds a btree so key ranges can be scanned in order.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"github.com/unijord/mortable/pkg/commit"
	"github.com/unijord/mortable/pkg/record"
)

const defaultShardCount = 64

type entry struct {
	key string
	loc record.FileGroupKey
}

func entryLess(a, b entry) bool { return a.key < b.key }

type shard struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// ShardedIndex maps record keys to their current file group. It implements
// the engine's Index boundary: UpdateIndex advances the mapping from write
// statuses, UpdateIndexAndCommitIfNeeded runs the optional commit hook.
type ShardedIndex struct {
	shards []*shard
	mask   uint64
	size   atomic.Int64

	// commitHook, when set, finalizes the index update transactionally
	// with the commit. Its failure semantics are its own.
	commitHook func(result *record.CommitResult) error
}

// IndexOption configures a ShardedIndex.
type IndexOption func(*ShardedIndex)

// WithCommitHook installs the hook UpdateIndexAndCommitIfNeeded invokes.
func WithCommitHook(hook func(result *record.CommitResult) error) IndexOption {
	return func(i *ShardedIndex) { i.commitHook = hook }
}

// NewShardedIndex creates an empty index.
func NewShardedIndex(opts ...IndexOption) *ShardedIndex {
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{tree: btree.NewG(2, entryLess)}
	}

	idx := &ShardedIndex{
		shards: shards,
		mask:   defaultShardCount - 1,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (i *ShardedIndex) getShard(key string) *shard {
	return i.shards[xxhash.Sum64String(key)&i.mask]
}

// Put records the current location for key.
func (i *ShardedIndex) Put(key string, loc record.FileGroupKey) {
	s := i.getShard(key)
	s.mu.Lock()
	_, existed := s.tree.ReplaceOrInsert(entry{key: key, loc: loc})
	s.mu.Unlock()

	if !existed {
		i.size.Add(1)
	}
}

// Get returns the current location for key.
func (i *ShardedIndex) Get(key string) (record.FileGroupKey, bool) {
	s := i.getShard(key)
	s.mu.RLock()
	e, ok := s.tree.Get(entry{key: key})
	s.mu.RUnlock()
	return e.loc, ok
}

// Len returns the number of indexed keys.
func (i *ShardedIndex) Len() int64 {
	return i.size.Load()
}

// UpdateIndex advances the key → location mapping from the commit's write
// statuses. Bulk-inserted records gain their brand new location; appended
// records keep theirs (a put to the same location is a no-op in effect).
func (i *ShardedIndex) UpdateIndex(statuses []record.WriteStatus, _ *record.CommitResult) error {
	for _, status := range statuses {
		for _, kl := range status.Written {
			i.Put(kl.Key, kl.Location)
		}
	}
	return nil
}

// UpdateIndexAndCommitIfNeeded runs the commit hook when one is installed.
func (i *ShardedIndex) UpdateIndexAndCommitIfNeeded(_ []record.WriteStatus, result *record.CommitResult) error {
	if i.commitHook == nil {
		return nil
	}
	if err := i.commitHook(result); err != nil {
		return &IndexUpdateError{Err: err}
	}
	return nil
}

var _ commit.Index = (*ShardedIndex)(nil)
