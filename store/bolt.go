package store

import (
	"context"
	"strconv"

	"go.etcd.io/bbolt"
)

// BoltStore keeps images in one bolt bucket keyed by conversation id.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStore expects bucket to exist already (see db.Open).
func NewBoltStore(db *bbolt.DB, bucket string) *BoltStore {
	return &BoltStore{db: db, bucket: []byte(bucket)}
}

func boltKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func (s *BoltStore) Put(_ context.Context, id int64, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(boltKey(id), data)
	})
}

func (s *BoltStore) Get(_ context.Context, id int64) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(boltKey(id))
		if v != nil {
			// bolt values are only valid inside the transaction
			data = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return
}

func (s *BoltStore) Has(_ context.Context, id int64) (ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(s.bucket).Get(boltKey(id)) != nil
		return nil
	})
	return
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
