package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/services/rest"
	"github.com/trezcool/shule/storage/sessionstore"
	"github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Backend, *bytes.Buffer) {
	backend, _, conf := testutil.StartBackend(t, nil)
	logger := testutil.NewLogger(t)

	sess := session.NewService(conf, sessionstore.NewInMemStore(), logger)
	if err := sess.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	out := new(bytes.Buffer)
	cli := &commandLine{
		conf: conf,
		sess: sess,
		backend: rest.NewClient(&rest.Options{
			BaseURL: conf.API.BaseURL,
			Timeout: conf.API.RequestTimeout,
			Tokens:  sess,
			Logger:  logger,
		}),
		log: logger,
		out: out,
	}
	return cli, backend, out
}

func login(t *testing.T, cli *commandLine) {
	t.Helper()
	if _, err := cli.sess.Login(context.Background(), "admin", "secret"); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
	pwd        string
}

func runCliTests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()

			err := cli.run(args)
			if err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
				return
			}
			if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() expected an error, got none")
			}
			if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("cli.run() output = %q, want it to contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_auth(t *testing.T) {
	cli, _, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "login: no username", args: []string{"login"}, wantErr: errHelp},
		{name: "login: empty password", args: []string{"login", "-username", "admin"}, wantErr: errHelp},
		{name: "whoami: not logged in", args: []string{"whoami"}, wantOut: "Not logged in."},
		{
			name: "login: wrong password", args: []string{"login", "-username", "admin"},
			pwd: "nope", wantErrStr: "invalid credentials",
		},
		{
			name: "login", args: []string{"login", "-username", "admin"},
			pwd: "secret", wantOut: "Logged in as admin.",
		},
		{name: "whoami", args: []string{"whoami"}, wantOut: "username=admin"},
		{name: "logout", args: []string{"logout"}, wantOut: "Logged out."},
		{name: "whoami: after logout", args: []string{"whoami"}, wantOut: "Not logged in."},
	}
	runCliTests(t, cli, out, tests)
}

func Test_commandLine_resources(t *testing.T) {
	cli, backend, out := setup(t)
	login(t, cli)

	backend.Seed("items",
		map[string]interface{}{"id": "it1", "name": "Chalk", "category": "stationery", "price": float64(50)},
		map[string]interface{}{"id": "it2", "name": "Ruler", "category": "stationery", "price": float64(80)},
	)

	tests := []cliTest{
		{name: "list: no resource", args: []string{"list"}, wantErr: errHelp},
		{name: "list", args: []string{"list", "-resource", "items"}, wantOut: "Showing 1 to 2 of 2 results."},
		{
			name: "list: search", args: []string{"list", "-resource", "items", "-search", "chalk"},
			wantOut: "Showing 1 to 1 of 1 results.",
		},
		{
			name: "list: filter", args: []string{"list", "-resource", "items", "-filter", "price=80"},
			wantOut: "it2",
		},
		{name: "create: no resource", args: []string{"create"}, wantErr: errHelp},
		{name: "create: no fields", args: []string{"create", "-resource", "items"}, wantErr: errHelp},
		{
			name: "create: unknown resource", args: []string{"create", "-resource", "lol", "-set", "name=x"},
			wantErrStr: `unknown resource "lol" (known: categories, enrollments, items, papers, payslips, rooms, routes, uniforms)`,
		},
		{
			name: "create: invalid", args: []string{"create", "-resource", "items", "-set", "price=10"},
			wantErrStr: "name: this field is required",
		},
		{
			name: "create", args: []string{"create", "-resource", "items", "-set", "name=Eraser", "-set", "price=30"},
			wantOut: "Saved.",
		},
		{name: "update: no id", args: []string{"update", "-resource", "items", "-set", "price=60"}, wantErr: errHelp},
		{
			name: "update", args: []string{"update", "-resource", "items", "-id", "it1", "-set", "price=60"},
			wantOut: "Saved.",
		},
		{
			name: "update: unknown id", args: []string{"update", "-resource", "items", "-id", "nope", "-set", "price=60"},
			wantErrStr: `items "nope" not found`,
		},
		{name: "delete: no id", args: []string{"delete", "-resource", "items"}, wantErr: errHelp},
		{
			name: "delete: not confirmed", args: []string{"delete", "-resource", "items", "-id", "it2"},
			wantErrStr: "refusing to delete without -yes",
		},
		{name: "delete", args: []string{"delete", "-resource", "items", "-id", "it2", "-yes"}, wantOut: "Deleted."},
		{name: "lookup: no query", args: []string{"lookup", "-resource", "items"}, wantErr: errHelp},
		{name: "lookup", args: []string{"lookup", "-resource", "items", "-query", "chalk"}, wantOut: "Chalk (it1)"},
		{name: "lookup: no match", args: []string{"lookup", "-resource", "items", "-query", "zzz"}, wantOut: "No matches."},
	}
	runCliTests(t, cli, out, tests)

	table := backend.Table("items")
	if len(table) != 2 {
		t.Fatalf("expected 2 items left, got %d", len(table))
	}
	for _, rec := range table {
		if rec["id"] == "it1" && rec["price"] != float64(60) {
			t.Errorf("update did not stick: price = %v", rec["price"])
		}
	}
}
