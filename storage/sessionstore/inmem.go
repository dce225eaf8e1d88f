package sessionstore

import (
	"sync"

	"github.com/trezcool/shule/core/session"
)

// inMemStore keeps the session in memory only; nothing survives a restart.
// Used in tests and by callers that opt out of persistence.
type inMemStore struct {
	mu   sync.Mutex
	sess session.Session
	set  bool
}

var _ session.Store = (*inMemStore)(nil)

func NewInMemStore() session.Store {
	return &inMemStore{}
}

func (ms *inMemStore) Load() (session.Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.set {
		return session.Session{}, session.ErrNoSession
	}
	return ms.sess, nil
}

func (ms *inMemStore) Save(sess session.Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sess = sess
	ms.set = true
	return nil
}

func (ms *inMemStore) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sess = session.Session{}
	ms.set = false
	return nil
}
