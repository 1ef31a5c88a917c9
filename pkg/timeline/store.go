package timeline

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// instants are stored in this bucket, keyed by instant id. Instant ids are
// timestamps, so a cursor scan yields the timeline in commit order.
var bucketInstants = []byte("instants")

// Store persists instant records. Update must apply fn atomically: either the
// mutated record is durably stored, or nothing changed. Errors returned by fn
// must pass through unwrapped so callers can distinguish a rejected
// transition from a persistence fault.
type Store interface {
	Get(instant Instant) (*InstantRecord, error)
	Update(instant Instant, fn func(rec *InstantRecord) (*InstantRecord, error)) error
	Instants() ([]Instant, error)
	Close() error
}

// BoltStore is the default Store, one BoltDB file per table.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the timeline database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInstants)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create instants bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get returns the record for instant, nil when the instant is unknown.
func (s *BoltStore) Get(instant Instant) (*InstantRecord, error) {
	var rec *InstantRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstants).Get([]byte(instant))
		if data == nil {
			return nil
		}
		rec = decodeInstantRecord(data)
		if rec == nil {
			return fmt.Errorf("corrupt instant record for %s", instant)
		}
		return nil
	})
	return rec, err
}

// Update runs fn against the current record (nil when unknown) inside one
// write transaction. fn returns the record to store; returning an error
// aborts the transaction with that error.
func (s *BoltStore) Update(instant Instant, fn func(rec *InstantRecord) (*InstantRecord, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstants)

		var cur *InstantRecord
		if data := b.Get([]byte(instant)); data != nil {
			cur = decodeInstantRecord(data)
			if cur == nil {
				return fmt.Errorf("corrupt instant record for %s", instant)
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode instant record: %w", err)
		}
		return b.Put([]byte(instant), data)
	})
}

// Instants returns all known instant ids in timeline order.
func (s *BoltStore) Instants() ([]Instant, error) {
	var out []Instant
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInstants).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			out = append(out, Instant(k))
		}
		return nil
	})
	return out, err
}

// Close closes the underlying BoltDB.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeInstantRecord(data []byte) *InstantRecord {
	if len(data) == 0 {
		return nil
	}
	var r InstantRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	return &r
}

var _ Store = (*BoltStore)(nil)
