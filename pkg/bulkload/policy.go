// Package bulkload implements the default bulk loader: records with no known
// location are split into brand new file groups per a sizing policy and
// written as fresh segments. Existing file groups are never touched, so bulk
// insert can run concurrently with every delta append task.
package bulkload

import (
	"github.com/twmb/murmur3"

	"github.com/unijord/mortable/pkg/record"
)

// SizingPolicy splits the inserts of one partition into chunks; each chunk
// becomes one new file group. Policies must neither drop nor duplicate
// records.
type SizingPolicy interface {
	Split(inserts record.InsertSet) []record.InsertSet
}

// CapacityPolicy fills file groups sequentially up to a record count and a
// byte budget, whichever trips first.
type CapacityPolicy struct {
	MaxRecords int
	MaxBytes   int64
}

// DefaultCapacityPolicy mirrors a common small-file target: 100k records or
// 100 MiB per new file group.
func DefaultCapacityPolicy() CapacityPolicy {
	return CapacityPolicy{MaxRecords: 100_000, MaxBytes: 100 * 1024 * 1024}
}

func (p CapacityPolicy) Split(inserts record.InsertSet) []record.InsertSet {
	maxRecords := p.MaxRecords
	if maxRecords <= 0 {
		maxRecords = int(^uint(0) >> 1)
	}

	var out []record.InsertSet
	var cur record.InsertSet
	var curBytes int64

	for _, rec := range inserts {
		recBytes := int64(len(rec.Payload))
		full := len(cur) >= maxRecords ||
			(p.MaxBytes > 0 && len(cur) > 0 && curBytes+recBytes > p.MaxBytes)
		if full {
			out = append(out, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, rec)
		curBytes += recBytes
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// BucketPolicy hashes record keys into a fixed number of buckets, so the same
// key always lands in the same new file group regardless of batch makeup.
// Hash is murmur3 x86 32-bit with the sign bit masked, the convention table
// formats use for bucket transforms.
type BucketPolicy struct {
	Buckets int
}

func (p BucketPolicy) Split(inserts record.InsertSet) []record.InsertSet {
	n := p.Buckets
	if n <= 0 {
		n = 1
	}

	buckets := make([]record.InsertSet, n)
	for _, rec := range inserts {
		b := int(murmur3.StringSum32(rec.Key)&0x7FFFFFFF) % n
		buckets[b] = append(buckets[b], rec)
	}

	out := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

var (
	_ SizingPolicy = CapacityPolicy{}
	_ SizingPolicy = BucketPolicy{}
)
