package lookup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/lookup"
	"github.com/trezcool/shule/tests"
)

func startSearcher(t *testing.T, onSelect func(lookup.Candidate)) (*testutil.Backend, *lookup.Searcher) {
	t.Helper()

	backend, _, conf := testutil.StartBackend(t, nil)
	backend.Seed("students",
		map[string]interface{}{"id": "s1", "name": "Abba"},
		map[string]interface{}{"id": "s2", "name": "Abcd"},
	)
	client := testutil.AuthedClient(t, conf)
	return backend, lookup.NewSearcher(client, "students", conf, testutil.NewLogger(t), onSelect)
}

func waitOpen(t *testing.T, s *lookup.Searcher) {
	t.Helper()
	require.Eventually(t, s.Open, 2*time.Second, 5*time.Millisecond, "dropdown never opened")
}

func TestSearcherDebounceCoalescesKeystrokes(t *testing.T) {
	backend, s := startSearcher(t, nil)

	// two keystrokes inside the quiet period produce one request, for the
	// latest text
	s.Input("ab")
	s.Input("abc")
	waitOpen(t, s)

	assert.Equal(t, 1, backend.SearchCalls())
	results := s.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "s2", results[0].ID)
	assert.Equal(t, "Abcd (s2)", results[0].Label)
}

func TestSearcherSeparateKeystrokesEachSearch(t *testing.T) {
	backend, s := startSearcher(t, nil)

	s.Input("ab")
	waitOpen(t, s)
	require.Equal(t, 1, backend.SearchCalls())
	assert.Len(t, s.Results(), 2)

	s.Input("abc")
	require.Eventually(t, func() bool { return backend.SearchCalls() == 2 },
		2*time.Second, 5*time.Millisecond, "second keystroke never searched")
	require.Eventually(t, func() bool { return len(s.Results()) == 1 },
		2*time.Second, 5*time.Millisecond, "results never narrowed to the new text")
}

func TestSearcherEmptyInputClosesWithoutRequest(t *testing.T) {
	backend, s := startSearcher(t, nil)

	s.Input("ab")
	s.Input("")
	time.Sleep(150 * time.Millisecond)

	assert.False(t, s.Open())
	assert.Empty(t, s.Results())
	assert.Zero(t, backend.SearchCalls(), "cleared input must cancel the pending request")
}

func TestSearcherSelect(t *testing.T) {
	var picked lookup.Candidate
	_, s := startSearcher(t, func(c lookup.Candidate) { picked = c })

	s.Input("abc")
	waitOpen(t, s)
	results := s.Results()
	require.Len(t, results, 1)

	s.Select(results[0])

	id, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "s2", id)
	assert.Equal(t, "Abcd (s2)", s.Text())
	assert.False(t, s.Open())
	assert.Empty(t, s.Results())
	assert.Equal(t, "s2", picked.ID)
}

func TestSearcherCloseOutsideKeepsSelection(t *testing.T) {
	_, s := startSearcher(t, nil)

	s.Input("abc")
	waitOpen(t, s)
	s.Select(s.Results()[0])

	s.Input("ab")
	waitOpen(t, s)
	s.CloseOutside()

	assert.False(t, s.Open())
	id, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "s2", id, "dismissing the dropdown must not drop the selection")
}
