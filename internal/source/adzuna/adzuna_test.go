package adzuna

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

func results(start, n int) string {
	items := make([]string, 0, n)
	for i := start; i < start+n; i++ {
		items = append(items, fmt.Sprintf(
			`{"id": "%d", "title": "Go Dev %d", "company": {"display_name": "Co %d"},
			  "location": {"display_name": "London"}, "redirect_url": "https://adzuna.example/%d",
			  "created": "2024-05-01T00:00:00Z", "description": "desc"}`, i, i, i, i))
	}
	return `{"count": 999, "results": [` + strings.Join(items, ",") + `]}`
}

func TestFetchAllStopsOnShortPage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		require.Equal(t, "id", q.Get("app_id"))
		require.Equal(t, "key", q.Get("app_key"))
		require.Equal(t, "golang", q.Get("what"))
		require.Equal(t, "london", q.Get("where"))
		require.Equal(t, "50", q.Get("results_per_page"))
		parts := strings.Split(r.URL.Path, "/")
		page, err := strconv.Atoi(parts[len(parts)-1])
		require.NoError(t, err)
		require.Equal(t, "/gb/search/"+strconv.Itoa(page), r.URL.Path)
		n := PageSize
		if page == 2 {
			n = 7
		}
		_, _ = fmt.Fprint(w, results((page-1)*PageSize, n))
	}))
	defer srv.Close()

	a := New(srv.Client(), "", "id", "key", nil)
	a.BaseURL = srv.URL
	records, err := a.FetchAll(context.Background(), crawler.Target{
		Name:   "uk-go",
		Kind:   crawler.KindAdzuna,
		Params: map[string]string{"what": "golang", "where": "london"},
	})
	require.NoError(t, err)
	require.Len(t, records, PageSize+7)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, "adzuna-0", records[0].ID)
	require.Equal(t, "Co 0", records[0].Company)
}

func TestFetchAllCapsPages(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		_, _ = fmt.Fprint(w, results((n-1)*PageSize, PageSize))
	}))
	defer srv.Close()

	a := New(srv.Client(), "", "id", "key", nil)
	a.BaseURL = srv.URL
	records, err := a.FetchAll(context.Background(), crawler.Target{Name: "t"})
	require.NoError(t, err)
	require.Len(t, records, MaxPages*PageSize)
	require.EqualValues(t, MaxPages, calls.Load())
}

func TestFetchAllKeepsEarlierPagesOnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, results(0, PageSize))
	}))
	defer srv.Close()

	a := New(srv.Client(), "", "id", "key", nil)
	a.BaseURL = srv.URL
	records, err := a.FetchAll(context.Background(), crawler.Target{Name: "t"})
	require.Error(t, err)
	require.Len(t, records, PageSize)
}

func TestFetchAllWithoutCredentials(t *testing.T) {
	t.Parallel()

	a := New(nil, "", "", "", nil)
	records, err := a.FetchAll(context.Background(), crawler.Target{Name: "t"})
	require.NoError(t, err)
	require.Nil(t, records)
}
