package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/lookup"
	"github.com/trezcool/shule/core/resource"
	"github.com/trezcool/shule/core/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf    *core.Config
	sess    *session.Service
	backend resource.Backend
	log     core.Logger
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -username USERNAME                             - log in (password prompted)")
	fmt.Fprintln(cli.out, "  logout                                               - clear the stored session")
	fmt.Fprintln(cli.out, "  whoami                                               - show the logged in user")
	fmt.Fprintln(cli.out, "  list -resource NAME [-search Q] [-filter K=V] [-page N] - list a resource page")
	fmt.Fprintln(cli.out, "  create -resource NAME -set K=V [-set K=V ...]        - create a record")
	fmt.Fprintln(cli.out, "  update -resource NAME -id ID -set K=V [-set K=V ...] - update a record")
	fmt.Fprintln(cli.out, "  delete -resource NAME -id ID -yes                    - delete a record")
	fmt.Fprintln(cli.out, "  lookup -resource NAME -query Q                       - type-ahead search")
	fmt.Fprintf(cli.out, "\nKnown resources: %s\n", strings.Join(knownResources(), ", "))
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	ctx := context.Background()

	switch args[1] {
	case "login":
		cmd := flag.NewFlagSet("login", flag.ExitOnError)
		uname := cmd.String("username", "", "The user's username. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *uname == "" {
			cmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			cmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *uname, string(pwd))

	case "logout":
		if err := cli.sess.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "Logged out.")
		return nil

	case "whoami":
		return cli.whoami()

	case "list":
		cmd := flag.NewFlagSet("list", flag.ExitOnError)
		res := cmd.String("resource", "", "The resource collection to list.")
		search := cmd.String("search", "", "Free-text search query.")
		page := cmd.Int("page", 1, "Page number.")
		var filters keyValueFlag
		cmd.Var(&filters, "filter", "Discrete filter as key=value; repeatable.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *res == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.list(ctx, *res, *search, *page, filters.pairs)

	case "create", "update":
		cmd := flag.NewFlagSet(args[1], flag.ExitOnError)
		res := cmd.String("resource", "", "The resource collection.")
		id := cmd.String("id", "", "The record id (update only).")
		var sets keyValueFlag
		cmd.Var(&sets, "set", "Field value as key=value; repeatable.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *res == "" || (args[1] == "update" && *id == "") || len(sets.pairs) == 0 {
			cmd.Usage()
			return errHelp
		}
		return cli.save(ctx, *res, *id, sets.pairs)

	case "delete":
		cmd := flag.NewFlagSet("delete", flag.ExitOnError)
		res := cmd.String("resource", "", "The resource collection.")
		id := cmd.String("id", "", "The record id.")
		yes := cmd.Bool("yes", false, "Confirm the delete; nothing is deleted without it.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *res == "" || *id == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.remove(ctx, *res, *id, *yes)

	case "lookup":
		cmd := flag.NewFlagSet("lookup", flag.ExitOnError)
		res := cmd.String("resource", "", "The foreign resource to search.")
		query := cmd.String("query", "", "Free-text query.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *res == "" || *query == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.lookup(*res, *query)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) login(ctx context.Context, uname, pwd string) error {
	sess, err := cli.sess.Login(ctx, uname, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Logged in as %s.\n", sess.Username())
	return nil
}

func (cli *commandLine) whoami() error {
	sess, ok := cli.sess.Current()
	if !ok {
		fmt.Fprintln(cli.out, "Not logged in.")
		return nil
	}
	cli.printRows([]resource.Record{resource.NewRecord(sess.User)})
	return nil
}

func (cli *commandLine) list(ctx context.Context, res, search string, page int, filters map[string]string) error {
	lc := resource.NewListController(cli.backend, res, cli.conf, cli.log)
	lc.SetDraftQuery(search)
	lc.SubmitSearch(ctx)
	for name, value := range filters {
		lc.SetFilter(ctx, name, value)
	}
	for lc.Page() < page && lc.CanNext() {
		lc.NextPage(ctx)
	}

	if msg := lc.Err(); msg != "" {
		return errors.New(msg)
	}
	cli.printRows(lc.Rows())
	fmt.Fprintln(cli.out, lc.RangeText())
	return nil
}

func (cli *commandLine) save(ctx context.Context, res, id string, sets map[string]string) error {
	spec, err := formSpecFor(res)
	if err != nil {
		return err
	}

	fc := resource.NewFormController(cli.backend, spec, cli.log, nil)
	if id != "" {
		rec, err := cli.findRecord(ctx, res, id)
		if err != nil {
			return err
		}
		fc.OpenForEdit(rec)
	} else {
		fc.Open()
	}

	for name, raw := range sets {
		fc.Set(name, coerceValue(spec, name, raw))
	}
	if err := fc.Submit(ctx); err != nil {
		if msg := fc.Err(); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	fmt.Fprintln(cli.out, "Saved.")
	return nil
}

func (cli *commandLine) remove(ctx context.Context, res, id string, confirmed bool) error {
	lc := resource.NewListController(cli.backend, res, cli.conf, cli.log)
	if err := lc.Delete(ctx, id, confirmed); err != nil {
		if err == resource.ErrNotConfirmed {
			return errors.New("refusing to delete without -yes")
		}
		return err
	}
	fmt.Fprintln(cli.out, "Deleted.")
	return nil
}

func (cli *commandLine) lookup(res, query string) error {
	searcher := lookup.NewSearcher(cli.backend, res, cli.conf, cli.log, nil)
	searcher.Input(query)

	// wait out the debounce window plus the request round-trip
	deadline := time.Now().Add(cli.conf.API.LookupDebounce + cli.conf.API.RequestTimeout)
	for time.Now().Before(deadline) {
		if searcher.Open() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	results := searcher.Results()
	if len(results) == 0 {
		fmt.Fprintln(cli.out, "No matches.")
		return nil
	}
	for _, c := range results {
		fmt.Fprintln(cli.out, c.Label)
	}
	return nil
}

// findRecord walks list pages until it finds the row carrying id, so that
// an edit seeds from the same record the list displays.
func (cli *commandLine) findRecord(ctx context.Context, res, id string) (resource.Record, error) {
	lc := resource.NewListController(cli.backend, res, cli.conf, cli.log)
	for {
		lc.FetchPage(ctx)
		if msg := lc.Err(); msg != "" {
			return resource.Record{}, errors.New(msg)
		}
		for _, rec := range lc.Rows() {
			if rec.ID == id {
				return rec, nil
			}
		}
		if !lc.CanNext() {
			return resource.Record{}, fmt.Errorf("%s %q not found", res, id)
		}
		lc.NextPage(ctx)
	}
}

func (cli *commandLine) printRows(rows []resource.Record) {
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	for _, rec := range rows {
		keys := make([]string, 0, len(rec.Fields))
		for key := range rec.Fields {
			if key != "id" && key != "_id" {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "%s", rec.ID)
		for _, key := range keys {
			fmt.Fprintf(w, "\t%s=%v", key, rec.Field(key))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

// keyValueFlag collects repeatable key=value flags.
type keyValueFlag struct {
	pairs map[string]string
}

func (f *keyValueFlag) String() string {
	return fmt.Sprintf("%v", f.pairs)
}

func (f *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	if f.pairs == nil {
		f.pairs = make(map[string]string)
	}
	f.pairs[parts[0]] = parts[1]
	return nil
}
