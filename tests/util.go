package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/services/rest"
	"github.com/trezcool/shule/storage/sessionstore"
)

// DefaultAdmin is the seed user the helpers log in with.
var DefaultAdmin = SeedUser{
	ID:       "u1",
	Name:     "Admin User",
	Username: "admin",
	Email:    "admin@shule.test",
	Password: "secret",
}

// StartBackend runs the fake backend on a local listener and returns it with
// a Config pointed at it. DefaultAdmin is seeded unless opts carries its own
// users. Timings are shortened so debounce-sensitive tests stay fast.
func StartBackend(t *testing.T, opts *BackendOptions) (*Backend, *httptest.Server, *core.Config) {
	t.Helper()

	if opts == nil {
		opts = &BackendOptions{}
	}
	if len(opts.Users) == 0 {
		opts.Users = []SeedUser{DefaultAdmin}
	}

	backend := NewBackend(opts)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	conf := &core.Config{
		AppName: "Shule",
		Env:     "TEST",
		Debug:   true,
		API: core.APIConfig{
			BaseURL:        srv.URL,
			RequestTimeout: 5 * time.Second,
			PageSize:       25,
			LookupDebounce: 40 * time.Millisecond,
			LookupMinChars: 1,
		},
	}
	return backend, srv, conf
}

// AuthedClient logs DefaultAdmin in against the backend behind conf and
// returns a REST client carrying its bearer token.
func AuthedClient(t *testing.T, conf *core.Config) *rest.Client {
	t.Helper()

	logger := NewLogger(t)
	svc := session.NewService(conf, sessionstore.NewInMemStore(), logger)
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if _, err := svc.Login(context.Background(), DefaultAdmin.Username, DefaultAdmin.Password); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	return rest.NewClient(&rest.Options{
		BaseURL: conf.API.BaseURL,
		Timeout: conf.API.RequestTimeout,
		Tokens:  svc,
		Logger:  logger,
	})
}

// NewLogger returns a core.Logger writing to the test's log output.
func NewLogger(t *testing.T) core.Logger {
	return &testLogger{t: t}
}

type testLogger struct{ t *testing.T }

func (l *testLogger) Debug(msg string, args ...interface{}) { l.logf("DEBUG", msg, args) }
func (l *testLogger) Info(msg string, args ...interface{})  { l.logf("INFO", msg, args) }
func (l *testLogger) Warn(msg string, args ...interface{})  { l.logf("WARN", msg, args) }
func (l *testLogger) Error(msg string, args ...interface{}) { l.logf("ERROR", msg, args) }
func (l *testLogger) Fatal(msg string, args ...interface{}) { l.logf("FATAL", msg, args) }

func (l *testLogger) logf(level, msg string, args []interface{}) {
	l.t.Helper()
	l.t.Logf("%s: %s %v", level, msg, args)
}

// DiffFields fails the test with a readable diff when two field bags differ.
func DiffFields(t *testing.T, want, got map[string]interface{}) {
	t.Helper()

	wantDump, gotDump := dumpFields(t, want), dumpFields(t, got)
	if wantDump == gotDump {
		return
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(wantDump),
		B:        difflib.SplitLines(gotDump),
		FromFile: "want",
		ToFile:   "got",
		Context:  3,
	})
	if err != nil {
		t.Fatalf("DiffFields() failed: %v", err)
	}
	t.Errorf("fields differ:\n%s", diff)
}

func dumpFields(t *testing.T, fields map[string]interface{}) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var dump string
	for _, key := range keys {
		raw, err := json.Marshal(fields[key])
		if err != nil {
			t.Fatalf("dumpFields() failed: %v", err)
		}
		dump += fmt.Sprintf("%s: %s\n", key, raw)
	}
	return dump
}
