package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Ftidal&amp;rut=abc">Tidal power overview</a>
  <a class="result__snippet" href="#">Tidal power converts tidal energy into electricity.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/estuary">Estuary ecosystems</a>
  <div class="result__snippet">Estuaries host migratory birds and shellfish beds.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.net/third">Third result</a>
</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	results, err := parseSearchResults(strings.NewReader(searchPage), 5)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Tidal power overview", results[0].title)
	assert.Equal(t, "https://example.com/tidal", results[0].url)
	assert.Equal(t, "Tidal power converts tidal energy into electricity.", results[0].snippet)

	assert.Equal(t, "https://example.org/estuary", results[1].url)
	assert.Equal(t, "Estuaries host migratory birds and shellfish beds.", results[1].snippet)

	assert.Equal(t, "Third result", results[2].title)
	assert.Empty(t, results[2].snippet)
}

func TestParseSearchResultsLimit(t *testing.T) {
	results, err := parseSearchResults(strings.NewReader(searchPage), 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestResolveResultURL(t *testing.T) {
	assert.Equal(t, "https://example.com/page",
		resolveResultURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=x"))
	assert.Equal(t, "https://direct.example.com",
		resolveResultURL("https://direct.example.com"))
	assert.Equal(t, "", resolveResultURL(""))
}

func TestSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	s := NewSearcher(&SearcherConfig{
		Endpoint:          srv.URL + "/",
		MaxResults:        2,
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600,
	}, nil)

	out, err := s.Search(context.Background(), "tidal power estuary")
	require.NoError(t, err)

	assert.Equal(t, "tidal power estuary", gotQuery)
	assert.Contains(t, out, "1. Tidal power overview")
	assert.Contains(t, out, "url: https://example.com/tidal")
	assert.Contains(t, out, "2. Estuary ecosystems")
	assert.NotContains(t, out, "Third result")
}

func TestSearchEmptyQuery(t *testing.T) {
	s := NewSearcher(nil, nil)
	_, err := s.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>no matches</body></html>"))
	}))
	defer srv.Close()

	s := NewSearcher(&SearcherConfig{
		Endpoint:          srv.URL + "/",
		MaxResults:        5,
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600,
	}, nil)

	out, err := s.Search(context.Background(), "gibberish")
	require.NoError(t, err)
	assert.Equal(t, "No results found.", out)
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSearcher(&SearcherConfig{
		Endpoint:          srv.URL + "/",
		MaxResults:        5,
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600,
	}, nil)

	_, err := s.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
