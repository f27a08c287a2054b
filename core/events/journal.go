package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"creditra/core/types"
)

var journalBucket = []byte("events")

// Journal is an Emitter that appends every emitted event to a bbolt file so
// indexers and audits can replay the full lifecycle history. Entries are keyed
// by a monotonically increasing sequence number.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (or creates) the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("events: open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("events: init journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying journal file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements the Emitter interface. Events without a wire payload are
// ignored; journal write failures are swallowed because emission is
// fire-and-forget by contract.
func (j *Journal) Emit(evt Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	wire := payload.Event()
	if wire == nil {
		return
	}
	blob, err := json.Marshal(wire)
	if err != nil {
		return
	}
	_ = j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		if bucket == nil {
			return fmt.Errorf("events: journal bucket missing")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return bucket.Put(key[:], blob)
	})
}

// List returns every journaled event in emission order.
func (j *Journal) List() ([]*types.Event, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("events: journal not open")
	}
	var out []*types.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			evt := &types.Event{}
			if err := json.Unmarshal(value, evt); err != nil {
				return err
			}
			out = append(out, evt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
