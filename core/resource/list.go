package resource

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// GenericErrMsg is the user-facing fallback when the backend supplies no
// error message of its own.
const GenericErrMsg = "something went wrong, please try again"

// ErrNotConfirmed is returned by Delete when the caller has not gone through
// an explicit confirmation step. There are no silent deletes.
var ErrNotConfirmed = errors.New("delete not confirmed")

// ListController binds {search text, filters, page} to a fetched page of
// rows for one resource. Failures become a user-visible error string and an
// empty row set; they never blank the whole screen. The controller is meant
// to be driven from a single goroutine, like the UI event loop it stands in
// for.
type ListController struct {
	backend Backend
	log     core.Logger
	name    string
	limit   int

	// draftQuery is what is being typed; appliedQuery is what the last
	// fetch actually used. Typing never refetches, only SubmitSearch does.
	draftQuery   string
	appliedQuery string
	filters      map[string]string

	page       int
	total      int
	totalPages int
	rows       []Record
	errMsg     string
	loading    bool
}

func NewListController(backend Backend, name string, conf *core.Config, logger core.Logger) *ListController {
	limit := conf.API.PageSize
	if limit <= 0 {
		limit = 25
	}
	return &ListController{
		backend: backend,
		log:     logger,
		name:    name,
		limit:   limit,
		filters: make(map[string]string),
		page:    1,
	}
}

// SetDraftQuery records typed search text without fetching.
func (lc *ListController) SetDraftQuery(q string) {
	lc.draftQuery = q
}

// SubmitSearch commits the draft query and fetches page 1. A changed query
// invalidates the meaning of "page N", so the page always resets first.
func (lc *ListController) SubmitSearch(ctx context.Context) {
	lc.appliedQuery = core.CleanString(lc.draftQuery)
	lc.page = 1
	lc.FetchPage(ctx)
}

// ClearSearch drops the draft and the committed query in one state update
// (no stale intermediate fetch) and returns to page 1. Active filters are
// preserved; only the text query leaves the next request.
func (lc *ListController) ClearSearch(ctx context.Context) {
	lc.draftQuery = ""
	lc.appliedQuery = ""
	lc.page = 1
	lc.FetchPage(ctx)
}

// SetFilter sets one discrete filter and fetches page 1. Other filters are
// left untouched; clearing or changing a filter never implicitly resets its
// dependents, only the page number.
func (lc *ListController) SetFilter(ctx context.Context, name, value string) {
	lc.filters[name] = value
	lc.page = 1
	lc.FetchPage(ctx)
}

// ClearFilter removes one filter and fetches page 1.
func (lc *ListController) ClearFilter(ctx context.Context, name string) {
	delete(lc.filters, name)
	lc.page = 1
	lc.FetchPage(ctx)
}

// FetchPage performs the authenticated list fetch for the current state.
// The loading flag is cleared on every path.
func (lc *ListController) FetchPage(ctx context.Context) {
	lc.loading = true
	defer func() { lc.loading = false }()

	q := make(url.Values)
	q.Set("page", strconv.Itoa(lc.page))
	q.Set("limit", strconv.Itoa(lc.limit))
	if lc.appliedQuery != "" {
		q.Set("search", lc.appliedQuery)
	}
	for name, value := range lc.filters {
		if value != "" {
			q.Set(name, value)
		}
	}

	page, err := lc.backend.List(ctx, lc.name, q)
	if err != nil {
		lc.errMsg = userMessage(err)
		lc.rows = nil
		lc.total = 0
		lc.totalPages = 0
		return
	}

	lc.errMsg = ""
	lc.rows = page.Items
	if page.Total > 0 || page.Pages > 0 {
		lc.total = page.Total
		lc.totalPages = page.Pages
	} else {
		// no pagination envelope: treat the response as the whole set
		lc.total = len(page.Items)
		lc.totalPages = 1
		if len(page.Items) > 0 {
			lc.page = 1
		}
	}
}

// Delete removes one row after an explicit confirmation step, then re-fetches
// the current page; local state is never patched in place.
func (lc *ListController) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := lc.backend.Delete(ctx, lc.name, id); err != nil {
		lc.errMsg = userMessage(err)
		return errors.Wrap(err, "deleting "+lc.name)
	}
	lc.FetchPage(ctx)
	return nil
}

func (lc *ListController) CanPrev() bool { return lc.page > 1 }
func (lc *ListController) CanNext() bool { return lc.page < lc.totalPages }

func (lc *ListController) PrevPage(ctx context.Context) {
	if !lc.CanPrev() {
		return
	}
	lc.page--
	lc.FetchPage(ctx)
}

func (lc *ListController) NextPage(ctx context.Context) {
	if !lc.CanNext() {
		return
	}
	lc.page++
	lc.FetchPage(ctx)
}

// RangeText renders the pagination footer: "Showing X to Y of Z results."
// where X is (page-1)*limit+1 (0 when there are no rows) and Y is
// min(page*limit, Z).
func (lc *ListController) RangeText() string {
	if lc.total == 0 {
		return "Showing 0 to 0 of 0 results."
	}
	from := (lc.page-1)*lc.limit + 1
	to := lc.page * lc.limit
	if to > lc.total {
		to = lc.total
	}
	return fmt.Sprintf("Showing %d to %d of %d results.", from, to, lc.total)
}

func (lc *ListController) Rows() []Record      { return lc.rows }
func (lc *ListController) Page() int           { return lc.page }
func (lc *ListController) TotalPages() int     { return lc.totalPages }
func (lc *ListController) Total() int          { return lc.total }
func (lc *ListController) Err() string         { return lc.errMsg }
func (lc *ListController) Loading() bool       { return lc.loading }
func (lc *ListController) DraftQuery() string  { return lc.draftQuery }
func (lc *ListController) AppliedQuery() string { return lc.appliedQuery }

// Filters returns a copy of the active filters.
func (lc *ListController) Filters() map[string]string {
	filters := make(map[string]string, len(lc.filters))
	for name, value := range lc.filters {
		filters[name] = value
	}
	return filters
}

func userMessage(err error) string {
	if aerr, ok := errors.Cause(err).(*core.APIError); ok && aerr.Message != "" {
		return aerr.Message
	}
	return GenericErrMsg
}
