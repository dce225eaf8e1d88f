package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/resource"
)

type (
	// Candidate is one lightweight match offered by the type-ahead.
	Candidate struct {
		ID    string
		Label string
	}

	// Backend resolves a free-text query into match candidates.
	// services/rest implements it.
	Backend interface {
		Search(ctx context.Context, name, query string) ([]resource.Record, error)
	}

	// Searcher is a debounced type-ahead resolving free text to exactly one
	// selected foreign reference, without loading the whole foreign
	// collection. A fixed quiet period follows the last keystroke before a
	// request goes out; a newer keystroke supersedes the pending one, and a
	// stale response is discarded even if it arrives last. Last query wins,
	// never last response.
	Searcher struct {
		backend  Backend
		log      core.Logger
		name     string
		debounce time.Duration
		minChars int
		onSelect func(Candidate)

		mu       sync.Mutex
		seq      uint64
		cancel   context.CancelFunc
		timer    *time.Timer
		text     string
		results  []Candidate
		open     bool
		selected string
		label    string
	}
)

// NewSearcher builds a type-ahead for one foreign resource. onSelect is
// invoked with the chosen candidate (typically to store the foreign id on
// the owning form); it may be nil.
func NewSearcher(backend Backend, name string, conf *core.Config, logger core.Logger, onSelect func(Candidate)) *Searcher {
	debounce := conf.API.LookupDebounce
	if debounce <= 0 {
		debounce = 350 * time.Millisecond
	}
	return &Searcher{
		backend:  backend,
		log:      logger,
		name:     name,
		debounce: debounce,
		minChars: conf.API.LookupMinChars,
		onSelect: onSelect,
	}
}

// Input records a keystroke. Empty input closes the dropdown immediately
// with no request; anything else (re)arms the debounce timer and cancels
// whatever request was pending.
func (s *Searcher) Input(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.text = text
	s.seq++ // supersede any pending or in-flight query
	s.stopPending()

	if len(text) < s.minChars || text == "" {
		s.results = nil
		s.open = false
		return
	}

	seq := s.seq
	s.timer = time.AfterFunc(s.debounce, func() { s.search(seq, text) })
}

func (s *Searcher) search(seq uint64, text string) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	recs, err := s.backend.Search(ctx, s.name, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return // a newer query took over while we were in flight
	}
	if err != nil {
		s.log.Warn("lookup search failed", err, map[string]interface{}{"resource": s.name})
		s.results = nil
		s.open = false
		return
	}
	s.results = make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		s.results = append(s.results, newCandidate(rec))
	}
	s.open = true
}

// Select stores the candidate's id, replaces the visible text with its
// display label and closes the dropdown. The next keystroke searches from
// scratch; a selection never lingers as a filter.
func (s *Searcher) Select(c Candidate) {
	s.mu.Lock()
	s.seq++
	s.stopPending()
	s.selected = c.ID
	s.label = c.Label
	s.text = c.Label
	s.results = nil
	s.open = false
	onSelect := s.onSelect
	s.mu.Unlock()

	if onSelect != nil {
		onSelect(c)
	}
}

// CloseOutside closes the dropdown without altering the current selection,
// for any pointer interaction outside the field.
func (s *Searcher) CloseOutside() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.stopPending()
	s.results = nil
	s.open = false
}

// Selected returns the chosen foreign id, if any.
func (s *Searcher) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

func (s *Searcher) Results() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]Candidate, len(s.results))
	copy(results, s.results)
	return results
}

func (s *Searcher) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Searcher) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// stopPending must be called with the mutex held.
func (s *Searcher) stopPending() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func newCandidate(rec resource.Record) Candidate {
	name := rec.StringField("name")
	if name == "" {
		name = rec.ID
	}
	return Candidate{ID: rec.ID, Label: fmt.Sprintf("%s (%s)", name, rec.ID)}
}
