package commit

import (
	"context"
	"sync"

	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

// MockSegmentWriter is a test implementation of SegmentWriter. It keeps every
// appended record in memory and can inject faults per target.
type MockSegmentWriter struct {
	mu          sync.Mutex
	openErrs    map[record.FileGroupKey]error
	appendErrs  map[record.FileGroupKey]error
	closeErrs   map[record.FileGroupKey]error
	opened      []record.FileGroupKey
	appended    map[record.FileGroupKey][]record.Record
	rejectKeys  map[string]error
	openedCount int
}

// NewMockSegmentWriter creates a mock segment writer.
func NewMockSegmentWriter() *MockSegmentWriter {
	return &MockSegmentWriter{
		openErrs:   make(map[record.FileGroupKey]error),
		appendErrs: make(map[record.FileGroupKey]error),
		closeErrs:  make(map[record.FileGroupKey]error),
		appended:   make(map[record.FileGroupKey][]record.Record),
		rejectKeys: make(map[string]error),
	}
}

// SetOpenError makes OpenSegment fail for target.
func (m *MockSegmentWriter) SetOpenError(target record.FileGroupKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErrs[target] = err
}

// SetAppendError makes every Append on target's handle fail.
func (m *MockSegmentWriter) SetAppendError(target record.FileGroupKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErrs[target] = err
}

// SetCloseError makes Close on target's handle fail.
func (m *MockSegmentWriter) SetCloseError(target record.FileGroupKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErrs[target] = err
}

// RejectKey makes the handle record err as a per-record failure for key.
// err must wrap record.ErrRecordRejected to classify as non-fatal.
func (m *MockSegmentWriter) RejectKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectKeys[key] = err
}

// Appended returns the records appended to target, in append order.
func (m *MockSegmentWriter) Appended(target record.FileGroupKey) []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appended[target]
}

// Opened returns how many segments were opened.
func (m *MockSegmentWriter) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openedCount
}

func (m *MockSegmentWriter) OpenSegment(ctx context.Context, target record.FileGroupKey, _ timeline.Instant) (LogSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.openedCount++
	m.opened = append(m.opened, target)

	if err := m.openErrs[target]; err != nil {
		return nil, err
	}
	return &mockLogSegment{writer: m, target: target}, nil
}

type mockLogSegment struct {
	writer *MockSegmentWriter
	target record.FileGroupKey
	status record.WriteStatus
}

func (s *mockLogSegment) Append(rec record.Record) error {
	s.writer.mu.Lock()
	defer s.writer.mu.Unlock()

	if err := s.writer.appendErrs[s.target]; err != nil {
		return err
	}
	if err := s.writer.rejectKeys[rec.Key]; err != nil {
		s.status.Failures = append(s.status.Failures, record.RecordFailure{Key: rec.Key, Err: err})
		return nil
	}

	s.writer.appended[s.target] = append(s.writer.appended[s.target], rec)
	s.status.Written = append(s.status.Written, record.KeyLocation{Key: rec.Key, Location: s.target})
	return nil
}

func (s *mockLogSegment) Close() (record.WriteStatus, error) {
	s.writer.mu.Lock()
	defer s.writer.mu.Unlock()

	s.status.Target = s.target
	s.status.Kind = record.TargetAppend
	if err := s.writer.closeErrs[s.target]; err != nil {
		return s.status, err
	}
	return s.status, nil
}

// MockBulkLoader is a test implementation of BulkLoader.
type MockBulkLoader struct {
	mu       sync.Mutex
	calls    int
	gotSets  []record.InsertSet
	err      error
	blockCtx bool
	newGroup string
}

// NewMockBulkLoader creates a mock bulk loader that writes every insert set
// into one synthetic new file group.
func NewMockBulkLoader() *MockBulkLoader {
	return &MockBulkLoader{newGroup: "mock-new-fg"}
}

// SetError makes BulkInsert fail.
func (m *MockBulkLoader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// BlockUntilCancelled makes BulkInsert wait for context cancellation and
// return ctx.Err(), for fail-fast tests.
func (m *MockBulkLoader) BlockUntilCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockCtx = true
}

// Calls returns how many times BulkInsert ran.
func (m *MockBulkLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBulkLoader) BulkInsert(ctx context.Context, inserts record.InsertSet, _ timeline.Instant) ([]record.WriteStatus, error) {
	m.mu.Lock()
	m.calls++
	m.gotSets = append(m.gotSets, inserts)
	err := m.err
	block := m.blockCtx
	group := m.newGroup
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	target := record.FileGroupKey{FileGroupID: group, PartitionPath: firstPartition(inserts)}
	status := record.WriteStatus{Target: target, Kind: record.TargetBulkInsert}
	for _, rec := range inserts {
		status.Written = append(status.Written, record.KeyLocation{Key: rec.Key, Location: target})
	}
	return []record.WriteStatus{status}, nil
}

func firstPartition(inserts record.InsertSet) string {
	if len(inserts) == 0 {
		return ""
	}
	return inserts[0].PartitionPath
}

// MockIndex is a test implementation of Index recording hook invocations.
type MockIndex struct {
	mu            sync.Mutex
	callOrder     []string
	updateErr     error
	commitErr     error
	seenLocations map[string]record.FileGroupKey
}

// NewMockIndex creates a mock index.
func NewMockIndex() *MockIndex {
	return &MockIndex{seenLocations: make(map[string]record.FileGroupKey)}
}

// SetUpdateError makes UpdateIndex fail.
func (m *MockIndex) SetUpdateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// SetCommitError makes UpdateIndexAndCommitIfNeeded fail.
func (m *MockIndex) SetCommitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// CallOrder returns the hook invocation order.
func (m *MockIndex) CallOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callOrder
}

// Location returns the location the index saw for key.
func (m *MockIndex) Location(key string) (record.FileGroupKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.seenLocations[key]
	return loc, ok
}

func (m *MockIndex) UpdateIndex(statuses []record.WriteStatus, _ *record.CommitResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callOrder = append(m.callOrder, "updateIndex")
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, s := range statuses {
		for _, kl := range s.Written {
			m.seenLocations[kl.Key] = kl.Location
		}
	}
	return nil
}

func (m *MockIndex) UpdateIndexAndCommitIfNeeded(_ []record.WriteStatus, _ *record.CommitResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callOrder = append(m.callOrder, "updateIndexAndCommitIfNeeded")
	return m.commitErr
}

var (
	_ SegmentWriter = (*MockSegmentWriter)(nil)
	_ LogSegment    = (*mockLogSegment)(nil)
	_ BulkLoader    = (*MockBulkLoader)(nil)
	_ Index         = (*MockIndex)(nil)
)
