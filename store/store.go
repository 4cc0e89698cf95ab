// Package store keeps the latest photo of every conversation. Each
// conversation owns a single slot that is overwritten by every new photo.
package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var ErrInvalidID = errors.New("invalid conversation id")

type ImageStore interface {
	// Put replaces the conversation's image.
	Put(ctx context.Context, id int64, data []byte) error
	// Get returns false when the conversation has no image yet.
	Get(ctx context.Context, id int64) ([]byte, bool, error)
	Has(ctx context.Context, id int64) (bool, error)
	Close() error
}

func fileName(id int64) string {
	return strconv.FormatInt(id, 10) + ".jpg"
}

func checkID(id int64) error {
	if id == 0 {
		return ErrInvalidID
	}
	return nil
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// LockedStore serialises access per conversation. Different conversations
// never wait on each other.
type LockedStore struct {
	inner ImageStore

	mu    sync.Mutex
	locks map[int64]*keyLock
}

func Locked(inner ImageStore) *LockedStore {
	if l, ok := inner.(*LockedStore); ok {
		return l
	}
	return &LockedStore{inner: inner, locks: make(map[int64]*keyLock)}
}

func (s *LockedStore) lock(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &keyLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *LockedStore) Put(ctx context.Context, id int64, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()
	return s.inner.Put(ctx, id, data)
}

func (s *LockedStore) Get(ctx context.Context, id int64) ([]byte, bool, error) {
	if err := checkID(id); err != nil {
		return nil, false, err
	}
	unlock := s.lock(id)
	defer unlock()
	return s.inner.Get(ctx, id)
}

func (s *LockedStore) Has(ctx context.Context, id int64) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	unlock := s.lock(id)
	defer unlock()
	return s.inner.Has(ctx, id)
}

func (s *LockedStore) Close() error {
	return s.inner.Close()
}

// MemoryStore keeps images in process memory. Used by tests and as a
// scratch backend.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[int64][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[int64][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, id int64, data []byte) error {
	s.mu.Lock()
	s.images[id] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) ([]byte, bool, error) {
	s.mu.RLock()
	data, ok := s.images[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *MemoryStore) Has(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	_, ok := s.images[id]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Close() error { return nil }
