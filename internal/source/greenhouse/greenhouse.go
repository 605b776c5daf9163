// Package greenhouse fetches postings from the public Greenhouse job board API.
package greenhouse

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

// DefaultBaseURL is the public board API root.
const DefaultBaseURL = "https://boards-api.greenhouse.io"

// Adapter implements crawler.OneShotAdapter. Targets carry a board_token param.
type Adapter struct {
	BaseURL string
	client  *httpjson.Client
}

// New constructs an Adapter.
func New(httpClient *http.Client, userAgent string) *Adapter {
	return &Adapter{
		BaseURL: DefaultBaseURL,
		client:  httpjson.New(httpClient, crawler.KindGreenhouse, userAgent),
	}
}

type boardResponse struct {
	Jobs []struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		Location struct {
			Name string `json:"name"`
		} `json:"location"`
		UpdatedAt   string `json:"updated_at"`
		AbsoluteURL string `json:"absolute_url"`
		Content     string `json:"content"`
	} `json:"jobs"`
}

// FetchAll returns every posting on the board with its description.
func (a *Adapter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	token := target.Param("board_token")
	if token == "" {
		return nil, errors.New("greenhouse target needs board_token")
	}
	endpoint := fmt.Sprintf("%s/v1/boards/%s/jobs?content=true", a.BaseURL, url.PathEscape(token))

	var resp boardResponse
	if err := a.client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch greenhouse board %s: %w", token, err)
	}

	records := make([]crawler.JobRecord, 0, len(resp.Jobs))
	for _, job := range resp.Jobs {
		if !target.AllowsLocation(job.Location.Name) {
			continue
		}
		records = append(records, crawler.JobRecord{
			ID:          strconv.FormatInt(job.ID, 10),
			Company:     target.Name,
			Title:       job.Title,
			Location:    job.Location.Name,
			URL:         job.AbsoluteURL,
			PostedOn:    job.UpdatedAt,
			Description: html.UnescapeString(job.Content),
			SourceTag:   string(crawler.KindGreenhouse),
		})
	}
	return records, nil
}
