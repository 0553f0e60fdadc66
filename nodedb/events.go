package nodedb

import (
	"encoding/binary"
	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
)

// ErrNotHead is returned when popping an event that is not the oldest one
// in the queue anymore.
var ErrNotHead = errors.New("event is not at the head of the queue")

// EventRecord is a single persisted, not yet acknowledged event.
type EventRecord struct {
	Seq     uint64
	Payload []byte
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// PushEvent appends the payload to the end of the event queue and returns
// its sequence number.
func (db *DB) PushEvent(payload []byte) (uint64, error) {
	var seq uint64

	err := db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(eventsBucket)
		if err != nil {
			return err
		}

		seq, err = bucket.NextSequence()
		if err != nil {
			return err
		}

		return bucket.Put(seqKey(seq), payload)
	})
	if err != nil {
		return 0, errors.Errorf("Could not push event: %v", err)
	}

	return seq, nil
}

// PeekEvent returns the oldest queued event, or nil if the queue is empty.
func (db *DB) PeekEvent() (*EventRecord, error) {
	var record *EventRecord

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		if bucket == nil {
			return nil
		}

		key, value := bucket.Cursor().First()
		if key == nil {
			return nil
		}

		// bbolt values are only valid for the life of the transaction
		payload := make([]byte, len(value))
		copy(payload, value)

		record = &EventRecord{
			Seq:     binary.BigEndian.Uint64(key),
			Payload: payload,
		}

		return nil
	})
	if err != nil {
		return nil, errors.Errorf("Could not peek event: %v", err)
	}

	return record, nil
}

// PopEvent removes the event with the given sequence number, which must be
// the oldest one in the queue.
func (db *DB) PopEvent(seq uint64) error {
	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		if bucket == nil {
			return ErrNotHead
		}

		key, _ := bucket.Cursor().First()
		if key == nil || binary.BigEndian.Uint64(key) != seq {
			return ErrNotHead
		}

		return bucket.Delete(key)
	})
}

// CountEvents returns the number of queued events.
func (db *DB) CountEvents() (int, error) {
	count := 0

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		if bucket == nil {
			return nil
		}

		count = bucket.Stats().KeyN
		return nil
	})

	return count, err
}
