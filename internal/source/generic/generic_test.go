package generic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

type stubFetcher struct {
	body []byte
	err  error
	got  crawler.FetchRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.got = req
	if s.err != nil {
		return crawler.FetchResponse{}, s.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: s.body}, nil
}

const rowsPage = `<html><body>
<ul>
  <li class="job"><h3>Backend Engineer (Go)</h3><a class="apply" href="/careers/position/101">Apply</a></li>
  <li class="job"><h3>Share on WhatsApp</h3><span>Data Platform Lead</span><a href="position/102">x</a></li>
  <li class="job"><h3>No link here</h3></li>
  <li class="job"><h3>Frontend Engineer</h3><a class="apply" href="https://other.example/jobs/7">Apply</a></li>
</ul>
</body></html>`

func TestFetchAllWithSelectors(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{body: []byte(rowsPage)}
	a := New(f)
	records, err := a.FetchAll(context.Background(), crawler.Target{
		Name: "Acme",
		Kind: crawler.KindGeneric,
		Params: map[string]string{
			"url":            "https://acme.example/careers/",
			"row_selector":   "li.job",
			"title_selector": "h3",
			"location":       "Haifa, Israel",
		},
	})
	require.NoError(t, err)
	require.False(t, f.got.Render)
	require.Len(t, records, 3)

	require.Equal(t, "Backend Engineer (Go)", records[0].Title)
	require.Equal(t, "https://acme.example/careers/position/101", records[0].URL)
	require.Equal(t, records[0].URL, records[0].ID)
	require.Equal(t, "Haifa, Israel", records[0].Location)

	require.Equal(t, "Data Platform Lead", records[1].Title)
	require.Equal(t, "https://acme.example/careers/position/102", records[1].URL)

	require.Equal(t, "https://other.example/jobs/7", records[2].URL)
}

func TestExtractFallsBackToJobLinks(t *testing.T) {
	t.Parallel()

	page := `<div>
	  <a href="/apply?jobOrderID=55">  Site Reliability
	     Engineer </a>
	  <a href="/about">About us</a>
	  <a href="https://jobs.lever.co/acme/posting/abc">Platform Engineer</a>
	  <a href="/apply?jobOrderID=55">Duplicate</a>
	</div>`
	records, err := Extract([]byte(page), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"row_selector": "tr.missing"},
	}, "https://acme.example/")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Site Reliability Engineer", records[0].Title)
	require.Equal(t, "https://acme.example/apply?jobOrderID=55", records[0].ID)
	require.Equal(t, "Platform Engineer", records[1].Title)
}

func TestExtractBaseURLAndLocationFilter(t *testing.T) {
	t.Parallel()

	page := `<a href="/position/9">Go Developer</a>`
	target := crawler.Target{
		Name:      "Acme",
		Locations: []string{"israel"},
		Params:    map[string]string{"location": "Berlin"},
	}
	records, err := Extract([]byte(page), target, "https://acme.example")
	require.NoError(t, err)
	require.Empty(t, records)

	target.Params["location"] = "Tel Aviv, Israel"
	records, err = Extract([]byte(page), target, "https://jobs.acme.example/base/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "https://jobs.acme.example/position/9", records[0].URL)
}

func TestFetchAllRender(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{body: []byte(`<a href="/position/1">Role</a>`)}
	a := New(f)
	_, err := a.FetchAll(context.Background(), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"url": "https://acme.example", "render": "true", "render_sleep": "2"},
	})
	require.NoError(t, err)
	require.True(t, f.got.Render)
	require.Equal(t, 2*time.Second, f.got.Settle)
}

func TestFetchAllErrors(t *testing.T) {
	t.Parallel()

	a := New(&stubFetcher{err: errors.New("boom")})
	_, err := a.FetchAll(context.Background(), crawler.Target{Name: "Acme"})
	require.Error(t, err)

	_, err = a.FetchAll(context.Background(), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"url": "https://acme.example"},
	})
	require.ErrorContains(t, err, "boom")
}

type renderFetcher struct {
	static, rendered string
	calls            []bool
}

func (r *renderFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	r.calls = append(r.calls, req.Render)
	body := r.static
	if req.Render {
		body = r.rendered
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func TestFetchAllAutoRenderPromotesAppShell(t *testing.T) {
	t.Parallel()

	f := &renderFetcher{
		static:   `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`,
		rendered: `<html><body><div id="root"><a href="/jobs?job_id=9">Data Engineer</a></div></body></html>`,
	}
	records, err := New(f).FetchAll(context.Background(), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"url": "https://acme.example/careers", "render": "auto"},
	})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, f.calls)
	require.Len(t, records, 1)
	require.Equal(t, "https://acme.example/jobs?job_id=9", records[0].URL)
}

func TestFetchAllAutoRenderKeepsStaticResults(t *testing.T) {
	t.Parallel()

	f := &renderFetcher{
		static: `<html><body><div id="root"><a href="/jobs?job_id=3">QA Engineer</a></div>` +
			`<script src="/app.js"></script></body></html>`,
	}
	records, err := New(f).FetchAll(context.Background(), crawler.Target{
		Name:   "Acme",
		Params: map[string]string{"url": "https://acme.example/careers", "render": "auto"},
	})
	require.NoError(t, err)
	require.Equal(t, []bool{false}, f.calls)
	require.Len(t, records, 1)
}
