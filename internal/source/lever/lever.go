// Package lever fetches postings from the public Lever postings API.
package lever

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

// DefaultBaseURL is the public postings API root.
const DefaultBaseURL = "https://api.lever.co"

// Adapter implements crawler.OneShotAdapter. Targets carry a lever_id param.
type Adapter struct {
	BaseURL string
	client  *httpjson.Client
}

// New constructs an Adapter.
func New(httpClient *http.Client, userAgent string) *Adapter {
	return &Adapter{
		BaseURL: DefaultBaseURL,
		client:  httpjson.New(httpClient, crawler.KindLever, userAgent),
	}
}

type posting struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Categories struct {
		Location string `json:"location"`
	} `json:"categories"`
	CreatedAt        int64  `json:"createdAt"`
	HostedURL        string `json:"hostedUrl"`
	DescriptionPlain string `json:"descriptionPlain"`
}

// FetchAll returns every posting of the company.
func (a *Adapter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	company := target.Param("lever_id")
	if company == "" {
		return nil, errors.New("lever target needs lever_id")
	}
	endpoint := fmt.Sprintf("%s/v0/postings/%s?mode=json", a.BaseURL, url.PathEscape(company))

	var postings []posting
	if err := a.client.GetJSON(ctx, endpoint, nil, &postings); err != nil {
		return nil, fmt.Errorf("fetch lever postings %s: %w", company, err)
	}

	records := make([]crawler.JobRecord, 0, len(postings))
	for _, p := range postings {
		if !target.AllowsLocation(p.Categories.Location) {
			continue
		}
		posted := ""
		if p.CreatedAt > 0 {
			posted = time.UnixMilli(p.CreatedAt).UTC().Format(time.DateOnly)
		}
		records = append(records, crawler.JobRecord{
			ID:          p.ID,
			Company:     target.Name,
			Title:       p.Text,
			Location:    p.Categories.Location,
			URL:         p.HostedURL,
			PostedOn:    posted,
			Description: p.DescriptionPlain,
			SourceTag:   string(crawler.KindLever),
		})
	}
	return records, nil
}
