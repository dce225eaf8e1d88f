package session_test

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/storage/sessionstore"
	"github.com/trezcool/shule/tests"
)

func TestServiceLogin(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewInMemStore()
	svc := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))

	sess, err := svc.Login(context.Background(), testutil.DefaultAdmin.Username, testutil.DefaultAdmin.Password)
	require.NoError(t, err)

	assert.True(t, svc.Authenticated())
	assert.Equal(t, "admin", sess.Username())
	assert.NotEmpty(t, sess.Token)

	token, err := svc.Token()
	require.NoError(t, err)
	assert.Equal(t, sess.Token, token)

	// a confirmed login persists token and user as one document
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sess.Token, persisted.Token)
	assert.Equal(t, "admin", persisted.Username())
}

func TestServiceLoginRejected(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewInMemStore()
	svc := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))

	_, err := svc.Login(context.Background(), "admin", "nope")
	require.Error(t, err)

	aerr, ok := errors.Cause(err).(*core.APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, aerr.StatusCode)
	assert.Equal(t, "invalid credentials", aerr.Message)

	assert.False(t, svc.Authenticated())
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, errors.Cause(err), "a failed login must not touch storage")
}

func TestServiceLoginFailureKeepsExistingSession(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewInMemStore()
	svc := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))

	_, err := svc.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "admin", "nope")
	require.Error(t, err)

	assert.True(t, svc.Authenticated(), "a failed re-login must not evict the current session")
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.False(t, persisted.IsZero())
}

func TestServiceLoginRateLimited(t *testing.T) {
	backend, _, conf := testutil.StartBackend(t, nil)
	backend.SetLoginRateLimited(true)
	svc := session.NewService(conf, sessionstore.NewInMemStore(), testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))

	// rate limiters answer in plain text; the raw body must not leak through
	_, err := svc.Login(context.Background(), "admin", "secret")
	require.Error(t, err)
	assert.True(t, core.IsRateLimited(err))

	aerr, ok := errors.Cause(err).(*core.APIError)
	require.True(t, ok)
	assert.Equal(t, session.RateLimitedMsg, aerr.Message)
}

func TestServiceLoginValidation(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	svc := session.NewService(conf, sessionstore.NewInMemStore(), testutil.NewLogger(t))

	_, err := svc.Login(context.Background(), "", "secret")
	require.Error(t, err)
	assert.False(t, svc.Authenticated())
}

func TestServiceInitializeRevalidates(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewFileStore(filepath.Join(t.TempDir(), "session.json"))

	first := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, first.Initialize(context.Background()))
	_, err := first.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	// a new process picks up the persisted session after a profile round-trip
	second := session.NewService(conf, store, testutil.NewLogger(t))
	assert.False(t, second.Ready())
	require.NoError(t, second.Initialize(context.Background()))

	assert.True(t, second.Ready())
	assert.True(t, second.Authenticated())
	sess, ok := second.Current()
	require.True(t, ok)
	assert.Equal(t, "admin", sess.Username())
}

func TestServiceInitializeRejectedClearsBoth(t *testing.T) {
	backend, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewFileStore(filepath.Join(t.TempDir(), "session.json"))

	first := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, first.Initialize(context.Background()))
	_, err := first.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	backend.SetProfileStatus(http.StatusUnauthorized)
	second := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, second.Initialize(context.Background()))

	assert.True(t, second.Ready())
	assert.False(t, second.Authenticated())
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, errors.Cause(err), "memory and storage must clear in lockstep")
}

func TestServiceInitializeNoSession(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	svc := session.NewService(conf, sessionstore.NewInMemStore(), testutil.NewLogger(t))

	require.NoError(t, svc.Initialize(context.Background()))

	assert.True(t, svc.Ready())
	assert.False(t, svc.Authenticated())
	_, err := svc.Token()
	assert.Equal(t, session.ErrNotAuthenticated, err)
}

func TestServiceInitializeExpiredToken(t *testing.T) {
	backend, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewInMemStore()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   "u1",
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	require.NoError(t, store.Save(session.Session{
		Token: expired,
		User:  map[string]interface{}{"username": "admin"},
	}))

	svc := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))

	// a visibly expired token is dropped without a revalidation round-trip
	assert.False(t, svc.Authenticated())
	assert.Zero(t, backend.LoginCalls())
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, errors.Cause(err))
}

func TestServiceLogout(t *testing.T) {
	_, _, conf := testutil.StartBackend(t, nil)
	store := sessionstore.NewInMemStore()
	svc := session.NewService(conf, store, testutil.NewLogger(t))
	require.NoError(t, svc.Initialize(context.Background()))
	_, err := svc.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout())

	assert.False(t, svc.Authenticated())
	_, ok := svc.Current()
	assert.False(t, ok)
	_, err = store.Load()
	assert.Equal(t, session.ErrNoSession, errors.Cause(err))
}
