// Package record defines the prepped record model consumed by the commit
// engine: records carry their key, partition path, opaque payload and, when
// the key is already indexed, the file group the record must be appended to.
package record

import "errors"

// ErrRecordRejected is the sentinel all per-record validation failures wrap.
// Writers record such failures inside a WriteStatus instead of aborting the
// surrounding task; any other error from a write path is fatal for the commit.
var ErrRecordRejected = errors.New("record rejected")

// FileGroupKey identifies one append target: a file group within a partition.
// It is a comparable value type so it can key a map directly.
type FileGroupKey struct {
	FileGroupID   string
	PartitionPath string
}

func (k FileGroupKey) String() string {
	return k.PartitionPath + "/" + k.FileGroupID
}

// Record is a single prepped upsert. Location is nil for records whose key
// has never been written; such records take the bulk-insert path and receive
// a brand new file group. Records are immutable once built: the router hands
// each one to exactly one writer task and nothing mutates it afterwards.
type Record struct {
	Key           string
	PartitionPath string
	Payload       []byte

	// Location is the current physical location of the record's key,
	// populated by the caller from the key index. Nil means unknown.
	Location *FileGroupKey
}

// HasKnownLocation reports whether the record already belongs to a file group.
func (r Record) HasKnownLocation() bool {
	return r.Location != nil
}

// KeyLocation binds a record key to the file group it was written to.
// Write statuses carry these so the index boundary can advance the
// key → location mapping after a successful commit.
type KeyLocation struct {
	Key      string
	Location FileGroupKey
}
