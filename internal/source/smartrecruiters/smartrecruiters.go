// Package smartrecruiters pages through the SmartRecruiters postings API.
// Listing pages omit the body, so each record carries a description handle.
package smartrecruiters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

// Public endpoints.
const (
	DefaultBaseURL    = "https://api.smartrecruiters.com"
	DefaultJobsURL    = "https://jobs.smartrecruiters.com"
	defaultPageLength = 20
)

// Adapter implements crawler.BatchedAdapter and crawler.DescriptionFetcher.
// Targets carry a company_id param.
type Adapter struct {
	BaseURL  string
	JobsURL  string
	PageSize int
	client   *httpjson.Client
}

// New constructs an Adapter requesting pageSize postings per call.
func New(httpClient *http.Client, userAgent string, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = defaultPageLength
	}
	return &Adapter{
		BaseURL:  DefaultBaseURL,
		JobsURL:  DefaultJobsURL,
		PageSize: pageSize,
		client:   httpjson.New(httpClient, crawler.KindSmartRecruiters, userAgent),
	}
}

type location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Remote  bool   `json:"remote"`
}

func (l location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if l.Remote {
		parts = append(parts, "Remote")
	}
	return strings.Join(parts, ", ")
}

type postingsResponse struct {
	TotalFound int `json:"totalFound"`
	Content    []struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		ReleasedDate string   `json:"releasedDate"`
		Location     location `json:"location"`
	} `json:"content"`
}

// FetchPage returns the postings at offset.
func (a *Adapter) FetchPage(ctx context.Context, target crawler.Target, offset int) (crawler.Page, error) {
	company := target.Param("company_id")
	if company == "" {
		return crawler.Page{}, errors.New("smartrecruiters target needs company_id")
	}
	query := url.Values{}
	query.Set("limit", fmt.Sprint(a.PageSize))
	query.Set("offset", fmt.Sprint(offset))
	endpoint := fmt.Sprintf("%s/v1/companies/%s/postings?%s", a.BaseURL, url.PathEscape(company), query.Encode())

	var resp postingsResponse
	if err := a.client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return crawler.Page{}, fmt.Errorf("fetch smartrecruiters %s offset %d: %w", company, offset, err)
	}

	page := crawler.Page{
		Scanned:    len(resp.Content),
		KnownTotal: crawler.TotalUnknown,
		HasMore:    len(resp.Content) > 0,
	}
	if resp.TotalFound > 0 {
		page.KnownTotal = resp.TotalFound
		page.HasMore = offset+len(resp.Content) < resp.TotalFound
	}
	for _, job := range resp.Content {
		loc := job.Location.String()
		if !target.AllowsLocation(loc) {
			continue
		}
		page.Records = append(page.Records, crawler.JobRecord{
			ID:        job.ID,
			Company:   target.Name,
			Title:     job.Name,
			Location:  loc,
			URL:       fmt.Sprintf("%s/%s/%s", a.JobsURL, company, job.ID),
			PostedOn:  job.ReleasedDate,
			SourceTag: string(crawler.KindSmartRecruiters),
			DescriptionHandle: &crawler.DescriptionHandle{
				Kind: crawler.KindSmartRecruiters,
				URL:  fmt.Sprintf("%s/v1/companies/%s/postings/%s", a.BaseURL, url.PathEscape(company), url.PathEscape(job.ID)),
			},
		})
	}
	return page, nil
}

type detailResponse struct {
	JobAd struct {
		Sections map[string]struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"sections"`
	} `json:"jobAd"`
}

// sectionOrder keeps the description readable; unknown sections follow.
var sectionOrder = []string{"companyDescription", "jobDescription", "qualifications", "additionalInformation"}

// FetchDescription concatenates the text of every job ad section.
func (a *Adapter) FetchDescription(ctx context.Context, handle crawler.DescriptionHandle) (string, error) {
	var resp detailResponse
	if err := a.client.GetJSON(ctx, handle.URL, handle.Headers, &resp); err != nil {
		return "", fmt.Errorf("fetch smartrecruiters description: %w", err)
	}
	sections := resp.JobAd.Sections
	keys := make([]string, 0, len(sections))
	known := make(map[string]bool, len(sectionOrder))
	for _, k := range sectionOrder {
		known[k] = true
		if _, ok := sections[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range sections {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var b strings.Builder
	for _, k := range keys {
		text := strings.TrimSpace(sections[k].Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
