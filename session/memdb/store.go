// Package memdb provides an in-memory session store, used by tests and by
// daemons that do not need sessions to survive a restart.
package memdb

import (
	"context"
	"sync"

	json "github.com/nikkolasg/hexjson"

	"github.com/keyshard/keyshard/session"
)

// Store keeps sessions in a map guarded by a mutex. Sessions are stored in
// their encoded form so callers never share mutable state with the store.
type Store struct {
	mtx   sync.RWMutex
	store map[string][]byte
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{store: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, sess *session.Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.store[sess.ID] = buf
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mtx.RLock()
	buf, ok := s.store[id]
	s.mtx.RUnlock()
	if !ok {
		return nil, session.ErrNoSessionStored
	}
	sess := new(session.Session)
	if err := json.Unmarshal(buf, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Del(_ context.Context, id string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.store, id)
	return nil
}

func (s *Store) Len(_ context.Context) (int, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.store), nil
}

func (s *Store) Close() error {
	return nil
}

var _ session.Store = (*Store)(nil)
