package sessionstore

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/session"
)

// fileStore persists the session as a single JSON document on disk. Token
// and user live in the same document and are written with an atomic rename,
// so one can never be persisted without the other.
type fileStore struct {
	mu   sync.Mutex
	path string
}

var _ session.Store = (*fileStore)(nil)

func NewFileStore(path string) session.Store {
	return &fileStore{path: path}
}

func (fs *fileStore) Load() (session.Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := ioutil.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Session{}, session.ErrNoSession
		}
		return session.Session{}, errors.Wrap(err, "reading session file")
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, errors.Wrap(err, "decoding session file")
	}
	if sess.IsZero() {
		// a half-written or stripped document counts as no session at all
		return session.Session{}, session.ErrNoSession
	}
	return sess, nil
}

func (fs *fileStore) Save(sess session.Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}

	tmp := fs.path + ".tmp"
	if err := ioutil.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "writing session file")
	}
	return errors.Wrap(os.Rename(tmp, fs.path), "replacing session file")
}

func (fs *fileStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing session file")
	}
	return nil
}
