package discovery

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/apperr"
)

func resultsPage(from, n int) map[string]any {
	results := make([]map[string]any, 0, n)
	for i := from; i < from+n; i++ {
		results = append(results, map[string]any{
			"id":           fmt.Sprint(i),
			"title":        fmt.Sprintf(" Data Engineer %d ", i),
			"description":  "Python and SQL",
			"redirect_url": fmt.Sprintf("https://jobs.example.com/%d", i),
			"created":      "2026-03-01T10:00:00Z",
			"company":      map[string]any{"display_name": "Acme"},
			"location":     map[string]any{"display_name": "Berlin, Germany"},
		})
	}
	return map[string]any{"count": 99, "results": results}
}

func TestSearchFollowsPagesUntilShortPage(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		assert.Equal(t, "id", r.URL.Query().Get("app_id"))
		assert.Equal(t, "key", r.URL.Query().Get("app_key"))
		assert.Equal(t, "data engineer", r.URL.Query().Get("what"))
		assert.Equal(t, "Berlin", r.URL.Query().Get("where"))
		assert.Equal(t, "2", r.URL.Query().Get("results_per_page"))
		assert.False(t, r.URL.Query().Has("max_days_old"))

		switch r.URL.Path {
		case "/de/search/1":
			_ = json.NewEncoder(w).Encode(resultsPage(1, 2))
		case "/de/search/2":
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			_ = json.NewEncoder(gz).Encode(resultsPage(3, 1))
			_ = gz.Close()
		default:
			t.Errorf("unexpected page %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient("id", "key", nil)
	c.APIURL = srv.URL

	got, err := c.Search(context.Background(), &SearchParams{What: "data engineer", Where: "Berlin", ResultsPerPage: 2}, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"/de/search/1", "/de/search/2"}, paths)
	require.Equal(t, 3, got.Len())
	first := got.Items[0]
	assert.Equal(t, "Data Engineer 1", first.Title)
	assert.Equal(t, "Acme", first.Company)
	assert.Equal(t, "Berlin, Germany", first.Location)
	assert.Equal(t, "https://jobs.example.com/1", first.URL)
	assert.Equal(t, "adzuna", first.Source)
}

func TestSearchStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(resultsPage(calls*10, 1))
	}))
	defer srv.Close()

	c := NewClient("id", "key", nil)
	c.APIURL = srv.URL

	got, err := c.Search(context.Background(), &SearchParams{What: "go", ResultsPerPage: 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, got.Len())
}

func TestSearchBadStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusUnauthorized, transient: false},
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusBadGateway, transient: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient("id", "key", nil)
			c.APIURL = srv.URL

			_, err := c.Search(context.Background(), &SearchParams{What: "go"}, 1)
			require.True(t, apperr.Is(err, apperr.KindExternalCapability), "got %v", err)
			assert.Equal(t, tt.transient, apperr.IsTransient(err))
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	q := buildParams(&SearchParams{
		What:         "data analyst",
		MaxDaysOld:   14,
		ExcludeWords: []string{"unpaid", "praktikum"},
	})

	assert.Equal(t, "data analyst", q.Get("what"))
	assert.Equal(t, "14", q.Get("max_days_old"))
	assert.Equal(t, "unpaid praktikum", q.Get("what_exclude"))
	assert.Equal(t, "application/json", q.Get("content-type"))
	assert.False(t, q.Has("where"))
	assert.False(t, q.Has("results_per_page"))
}

func TestRedactHidesCredentials(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/de/search/1?app_id=secret&app_key=secret&what=go", nil)
	out := redact(req.URL)
	assert.False(t, strings.Contains(out, "secret"), out)
	assert.Contains(t, out, "what=go")
}
