package greenhouse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

const boardJSON = `{"jobs": [
 {"id": 4011, "title": "Backend Engineer", "location": {"name": "Tel Aviv, Israel"},
  "updated_at": "2024-05-01T10:00:00-04:00", "absolute_url": "https://boards.greenhouse.io/acme/jobs/4011",
  "content": "&lt;p&gt;Build APIs&lt;/p&gt;"},
 {"id": 4012, "title": "Sales Lead", "location": {"name": "London"},
  "updated_at": "2024-05-02T10:00:00-04:00", "absolute_url": "https://boards.greenhouse.io/acme/jobs/4012",
  "content": ""}
]}`

func TestFetchAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/boards/acme/jobs", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("content"))
		_, _ = w.Write([]byte(boardJSON))
	}))
	defer srv.Close()

	a := New(srv.Client(), "")
	a.BaseURL = srv.URL

	target := crawler.Target{Name: "Acme", Kind: crawler.KindGreenhouse, Params: map[string]string{"board_token": "acme"}}
	recs, err := a.FetchAll(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "4011", recs[0].ID)
	require.Equal(t, "Acme", recs[0].Company)
	require.Equal(t, "<p>Build APIs</p>", recs[0].Description)
	require.Equal(t, "greenhouse", recs[0].SourceTag)

	target.Locations = []string{"israel"}
	recs, err = a.FetchAll(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "Backend Engineer", recs[0].Title)
}

func TestFetchAllErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(srv.Client(), "")
	a.BaseURL = srv.URL
	_, err := a.FetchAll(context.Background(), crawler.Target{Name: "Acme"})
	require.ErrorContains(t, err, "board_token")

	_, err = a.FetchAll(context.Background(), crawler.Target{Name: "Acme", Params: map[string]string{"board_token": "gone"}})
	require.ErrorContains(t, err, "status 404")
}
