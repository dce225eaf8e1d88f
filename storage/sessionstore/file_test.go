package sessionstore_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/storage/sessionstore"
)

func tempStore(t *testing.T) (session.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "session.json")
	return sessionstore.NewFileStore(path), path
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, path := tempStore(t)

	sess := session.Session{
		Token: "tok-123",
		User:  map[string]interface{}{"id": "u1", "username": "admin"},
	}
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", loaded.Token)
	assert.Equal(t, "admin", loaded.Username())

	// no leftover temp file from the atomic write
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, _ := tempStore(t)

	_, err := store.Load()
	assert.Equal(t, session.ErrNoSession, err)
}

func TestFileStoreLoadHalfDocument(t *testing.T) {
	store, path := tempStore(t)

	// a token without its user is not a session; the unit is indivisible
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"token": "tok-123"}`), 0o600))

	_, err := store.Load()
	assert.Equal(t, session.ErrNoSession, err)
}

func TestFileStoreLoadCorrupt(t *testing.T) {
	store, path := tempStore(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, ioutil.WriteFile(path, []byte("{not json"), 0o600))

	_, err := store.Load()
	assert.Error(t, err)
}

func TestFileStoreClear(t *testing.T) {
	store, path := tempStore(t)

	require.NoError(t, store.Save(session.Session{
		Token: "tok-123",
		User:  map[string]interface{}{"id": "u1"},
	}))
	require.NoError(t, store.Clear())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, err)

	// clearing an already empty store is fine
	assert.NoError(t, store.Clear())
}

func TestInMemStore(t *testing.T) {
	store := sessionstore.NewInMemStore()

	_, err := store.Load()
	assert.Equal(t, session.ErrNoSession, err)

	sess := session.Session{Token: "tok", User: map[string]interface{}{"id": "u1"}}
	require.NoError(t, store.Save(sess))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sess, loaded)

	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, err)
}
