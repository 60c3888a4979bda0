package session

import (
	"context"
	"errors"
)

// ErrNoSessionStored is returned when the requested session is not in the
// store.
var ErrNoSessionStored = errors.New("session: no session stored")

// Store provides access to saved sessions. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Del(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
	Close() error
}
