// Package adzuna searches the Adzuna job aggregator API.
package adzuna

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

const (
	// DefaultBaseURL is the search API root.
	DefaultBaseURL = "https://api.adzuna.com/v1/api/jobs"
	// PageSize is the number of results requested per call.
	PageSize = 50
	// MaxPages bounds one search to 150 results.
	MaxPages       = 3
	defaultCountry = "gb"
)

// Adapter implements crawler.OneShotAdapter over the search endpoint.
// Targets carry what, where and country params. Without credentials every
// fetch is skipped with a warning.
type Adapter struct {
	BaseURL string
	AppID   string
	AppKey  string

	client *httpjson.Client
	logger *zap.Logger
}

// New constructs an Adapter.
func New(httpClient *http.Client, userAgent, appID, appKey string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		BaseURL: DefaultBaseURL,
		AppID:   appID,
		AppKey:  appKey,
		client:  httpjson.New(httpClient, crawler.KindAdzuna, userAgent),
		logger:  logger.Named("adzuna"),
	}
}

type searchResponse struct {
	Count   int `json:"count"`
	Results []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Company     struct {
			DisplayName string `json:"display_name"`
		} `json:"company"`
		Location struct {
			DisplayName string `json:"display_name"`
		} `json:"location"`
		RedirectURL string `json:"redirect_url"`
		Created     string `json:"created"`
	} `json:"results"`
}

// FetchAll pages through the search results until a short page or MaxPages.
// Records collected before a failing page are returned with the error.
func (a *Adapter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	if a.AppID == "" || a.AppKey == "" {
		a.logger.Warn("adzuna credentials not set, skipping", zap.String("target", target.Name))
		return nil, nil
	}

	var records []crawler.JobRecord
	for page := 1; page <= MaxPages; page++ {
		resp, err := a.fetchPage(ctx, target, page)
		if err != nil {
			return records, fmt.Errorf("fetch adzuna %s page %d: %w", target.Name, page, err)
		}
		for _, r := range resp.Results {
			if !target.AllowsLocation(r.Location.DisplayName) {
				continue
			}
			company := r.Company.DisplayName
			if company == "" {
				company = target.Name
			}
			records = append(records, crawler.JobRecord{
				ID:          "adzuna-" + r.ID,
				Company:     company,
				Title:       r.Title,
				Location:    r.Location.DisplayName,
				URL:         r.RedirectURL,
				PostedOn:    r.Created,
				Description: r.Description,
				SourceTag:   string(crawler.KindAdzuna),
			})
		}
		if len(resp.Results) < PageSize {
			break
		}
	}
	return records, nil
}

func (a *Adapter) fetchPage(ctx context.Context, target crawler.Target, page int) (searchResponse, error) {
	country := target.Param("country")
	if country == "" {
		country = defaultCountry
	}
	params := url.Values{}
	params.Set("app_id", a.AppID)
	params.Set("app_key", a.AppKey)
	params.Set("results_per_page", strconv.Itoa(PageSize))
	params.Set("what", target.Param("what"))
	if where := target.Param("where"); where != "" {
		params.Set("where", where)
	}
	params.Set("sort_by", "date")
	endpoint := fmt.Sprintf("%s/%s/search/%d?%s", a.BaseURL, url.PathEscape(country), page, params.Encode())

	var resp searchResponse
	err := a.client.GetJSON(ctx, endpoint, nil, &resp)
	return resp, err
}
