// Package workday pages through Workday's public career-site search API.
package workday

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

const (
	// SubdomainHeader carries the tenant id on every Workday request.
	SubdomainHeader   = "X-Workday-Subdomain"
	defaultPageLength = 20
)

// Adapter implements crawler.BatchedAdapter and crawler.DescriptionFetcher.
// Targets carry the tenant search endpoint in the url param, for example
// https://nvidia.wd5.myworkdayjobs.com/wday/cxs/nvidia/NVIDIAExternalCareerSite/jobs,
// and may set search_text.
type Adapter struct {
	PageSize int
	client   *httpjson.Client
}

// New constructs an Adapter requesting pageSize postings per call.
func New(httpClient *http.Client, userAgent string, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = defaultPageLength
	}
	return &Adapter{
		PageSize: pageSize,
		client:   httpjson.New(httpClient, crawler.KindWorkday, userAgent),
	}
}

// endpoint is the parsed form of a target's search URL.
type endpoint struct {
	search  string
	apiBase string
	site    string
	tenant  string
}

func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, errors.New("workday target needs url")
	}
	_, rest, ok := strings.Cut(raw, "/cxs/")
	if !ok {
		return endpoint{}, fmt.Errorf("workday url %q has no /cxs/ segment", raw)
	}
	tenant, _, _ := strings.Cut(rest, "/")
	if tenant == "" {
		return endpoint{}, fmt.Errorf("workday url %q has no tenant", raw)
	}
	site, _, _ := strings.Cut(raw, "/wday")
	return endpoint{
		search:  raw,
		apiBase: strings.TrimSuffix(raw, "/jobs"),
		site:    site,
		tenant:  tenant,
	}, nil
}

type searchRequest struct {
	AppliedFacets map[string]any `json:"appliedFacets"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
	SearchText    string         `json:"searchText"`
}

type searchResponse struct {
	Total       int `json:"total"`
	JobPostings []struct {
		Title         string   `json:"title"`
		ExternalPath  string   `json:"externalPath"`
		LocationsText string   `json:"locationsText"`
		PostedOn      string   `json:"postedOn"`
		BulletFields  []string `json:"bulletFields"`
	} `json:"jobPostings"`
}

// FetchPage posts a search at offset. Workday usually reports the total only
// on the first page; later pages report zero, which maps to unknown.
func (a *Adapter) FetchPage(ctx context.Context, target crawler.Target, offset int) (crawler.Page, error) {
	ep, err := parseEndpoint(target.Param("url"))
	if err != nil {
		return crawler.Page{}, err
	}
	headers := map[string]string{SubdomainHeader: ep.tenant}
	req := searchRequest{
		AppliedFacets: map[string]any{},
		Limit:         a.PageSize,
		Offset:        offset,
		SearchText:    target.Param("search_text"),
	}

	var resp searchResponse
	if err := a.client.PostJSON(ctx, ep.search, headers, req, &resp); err != nil {
		return crawler.Page{}, fmt.Errorf("fetch workday %s offset %d: %w", ep.tenant, offset, err)
	}

	page := crawler.Page{
		Scanned:    len(resp.JobPostings),
		KnownTotal: crawler.TotalUnknown,
		HasMore:    len(resp.JobPostings) > 0,
	}
	if resp.Total > 0 {
		page.KnownTotal = resp.Total
	}
	for _, job := range resp.JobPostings {
		if !target.AllowsLocation(job.LocationsText) {
			continue
		}
		id := job.ExternalPath
		if len(job.BulletFields) > 0 && job.BulletFields[0] != "" {
			id = job.BulletFields[0]
		}
		rec := crawler.JobRecord{
			ID:        id,
			Company:   target.Name,
			Title:     job.Title,
			Location:  job.LocationsText,
			URL:       ep.site + job.ExternalPath,
			PostedOn:  job.PostedOn,
			SourceTag: string(crawler.KindWorkday),
		}
		if job.ExternalPath != "" {
			rec.DescriptionHandle = &crawler.DescriptionHandle{
				Kind:    crawler.KindWorkday,
				URL:     ep.apiBase + job.ExternalPath,
				Headers: map[string]string{SubdomainHeader: ep.tenant},
			}
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

type detailResponse struct {
	JobPostingInfo struct {
		JobDescription string `json:"jobDescription"`
	} `json:"jobPostingInfo"`
}

// FetchDescription returns the posting's HTML description.
func (a *Adapter) FetchDescription(ctx context.Context, handle crawler.DescriptionHandle) (string, error) {
	var resp detailResponse
	if err := a.client.GetJSON(ctx, handle.URL, handle.Headers, &resp); err != nil {
		return "", fmt.Errorf("fetch workday description: %w", err)
	}
	return resp.JobPostingInfo.JobDescription, nil
}
