// Package boltdb provides a persistent session store on top of bbolt, the
// native Go key-value store. Sessions are stored JSON-encoded in the db file.
package boltdb

import (
	"context"
	"path"
	"sync"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/keyshard/keyshard/common/log"
	"github.com/keyshard/keyshard/session"
)

// BoltStore implements the session.Store interface using bbolt.
type BoltStore struct {
	sync.Mutex
	db *bolt.DB

	log log.Logger
}

var sessionBucket = []byte("sessions")

// BoltFileName is the name of the file bbolt writes to.
const BoltFileName = "sessions.db"

// BoltStoreOpenPerm is the permission used for the store file on disk: it is
// readable and writable by its owner only.
const BoltStoreOpenPerm = 0600

// NewBoltStore opens (or creates) the session database in the given folder.
func NewBoltStore(l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	dbPath := path.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db, log: l}, nil
}

func (b *BoltStore) Put(_ context.Context, sess *session.Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(sess.ID), buf)
	})
}

func (b *BoltStore) Get(_ context.Context, id string) (*session.Session, error) {
	var sess *session.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(sessionBucket).Get([]byte(id))
		if buf == nil {
			return session.ErrNoSessionStored
		}
		sess = new(session.Session)
		return json.Unmarshal(buf, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (b *BoltStore) Del(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(id))
	})
}

func (b *BoltStore) Len(_ context.Context) (int, error) {
	var length int
	err := b.db.View(func(tx *bolt.Tx) error {
		length = tx.Bucket(sessionBucket).Stats().KeyN
		return nil
	})
	return length, err
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("closing session db", "error", err)
	}
	return err
}

var _ session.Store = (*BoltStore)(nil)
