package workday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	ep, err := parseEndpoint("https://nvidia.wd5.myworkdayjobs.com/wday/cxs/nvidia/NVIDIAExternalCareerSite/jobs")
	require.NoError(t, err)
	require.Equal(t, "nvidia", ep.tenant)
	require.Equal(t, "https://nvidia.wd5.myworkdayjobs.com", ep.site)
	require.Equal(t, "https://nvidia.wd5.myworkdayjobs.com/wday/cxs/nvidia/NVIDIAExternalCareerSite", ep.apiBase)

	_, err = parseEndpoint("")
	require.Error(t, err)
	_, err = parseEndpoint("https://example.com/careers")
	require.Error(t, err)
	_, err = parseEndpoint("https://example.com/wday/cxs/")
	require.Error(t, err)
}

func TestFetchPageAndDescription(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/wday/cxs/acme/Careers/jobs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "acme", r.Header.Get(SubdomainHeader))
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 20, req.Limit)
		require.Equal(t, "golang", req.SearchText)
		total := 0
		if req.Offset == 0 {
			total = 41
		}
		_, _ = fmt.Fprintf(w, `{"total": %d, "jobPostings": [
		  {"title": "Go Developer", "externalPath": "/job/Tel-Aviv/Go-Developer_JR1", "locationsText": "Israel, Tel Aviv",
		   "postedOn": "Posted Today", "bulletFields": ["JR1"]},
		  {"title": "Designer", "externalPath": "/job/Paris/Designer_JR2", "locationsText": "France, Paris",
		   "postedOn": "Posted 3 Days Ago", "bulletFields": []}
		]}`, total)
	})
	mux.HandleFunc("/wday/cxs/acme/Careers/job/Tel-Aviv/Go-Developer_JR1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "acme", r.Header.Get(SubdomainHeader))
		_, _ = fmt.Fprint(w, `{"jobPostingInfo": {"jobDescription": "<p>Write Go</p>"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(srv.Client(), "", 20)
	target := crawler.Target{
		Name: "Acme",
		Kind: crawler.KindWorkday,
		Params: map[string]string{
			"url":         srv.URL + "/wday/cxs/acme/Careers/jobs",
			"search_text": "golang",
		},
	}

	page, err := a.FetchPage(context.Background(), target, 0)
	require.NoError(t, err)
	require.Equal(t, 41, page.KnownTotal)
	require.True(t, page.HasMore)
	require.Len(t, page.Records, 2)
	require.Equal(t, "JR1", page.Records[0].ID)
	require.Equal(t, srv.URL+"/job/Tel-Aviv/Go-Developer_JR1", page.Records[0].URL)
	require.Equal(t, "/job/Paris/Designer_JR2", page.Records[1].ID, "external path is the fallback id")

	page, err = a.FetchPage(context.Background(), target, 20)
	require.NoError(t, err)
	require.Equal(t, crawler.TotalUnknown, page.KnownTotal)

	target.Locations = []string{"Israel"}
	page, err = a.FetchPage(context.Background(), target, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, 2, page.ScannedCount())

	handle := page.Records[0].DescriptionHandle
	require.NotNil(t, handle)
	desc, err := a.FetchDescription(context.Background(), *handle)
	require.NoError(t, err)
	require.Equal(t, "<p>Write Go</p>", desc)
}

func TestFetchPageBlockedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "<html>Access denied</html>")
	}))
	defer srv.Close()

	a := New(srv.Client(), "", 20)
	_, err := a.FetchPage(context.Background(), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"url": srv.URL + "/wday/cxs/acme/Careers/jobs"},
	}, 0)
	require.Error(t, err)
}
