// Package comeet reads Comeet career sites. The positions API needs a
// company token scraped from the public careers page, so tokens are cached
// per target and refreshed when the API rejects them.
package comeet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/session"
	"github.com/JakeFAU/jobharvest/internal/source/httpjson"
)

const (
	// DefaultPageURL is the careers page root.
	DefaultPageURL = "https://www.comeet.com/jobs"
	// DefaultAPIURL is the careers API root.
	DefaultAPIURL = "https://www.comeet.co/careers-api/2.0"
)

// ErrNoToken is returned when the careers page exposes no company token.
var ErrNoToken = errors.New("comeet token not found")

var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"token"\s*:\s*"([A-Z0-9]+)"`),
	regexp.MustCompile(`(?i)'token'\s*:\s*'([A-Z0-9]+)'`),
	regexp.MustCompile(`(?i)token\s*=\s*"([A-Z0-9]+)"`),
	regexp.MustCompile(`(?i)&quot;token&quot;:&quot;([A-Z0-9]+)&quot;`),
	regexp.MustCompile(`(?i)company_token:\s*"([A-Z0-9]+)"`),
	regexp.MustCompile(`(?i)company_token:\s*'([A-Z0-9]+)'`),
}

// ExtractToken returns the first company token found in a careers page.
func ExtractToken(page string) (string, error) {
	for _, re := range tokenPatterns {
		if m := re.FindStringSubmatch(page); m != nil {
			return m[1], nil
		}
	}
	return "", ErrNoToken
}

// Adapter implements crawler.OneShotAdapter. Targets carry comeet_name and
// comeet_uid params.
type Adapter struct {
	PageURL string
	APIURL  string

	client   *httpjson.Client
	sessions *session.Cache
	logger   *zap.Logger
}

// New constructs an Adapter sharing the given session cache.
func New(httpClient *http.Client, userAgent string, sessions *session.Cache, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		sessions = session.New(logger)
	}
	return &Adapter{
		PageURL:  DefaultPageURL,
		APIURL:   DefaultAPIURL,
		client:   httpjson.New(httpClient, crawler.KindComeet, userAgent),
		sessions: sessions,
		logger:   logger.Named("comeet"),
	}
}

type position struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Location *struct {
		Name string `json:"name"`
	} `json:"location"`
	TimeUpdated   string `json:"time_updated"`
	URLActivePage string `json:"url_active_page"`
	Details       []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"details"`
}

// FetchAll returns every open position. A rejected token is refreshed once.
func (a *Adapter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	name, uid := target.Param("comeet_name"), target.Param("comeet_uid")
	if name == "" || uid == "" {
		return nil, errors.New("comeet target needs comeet_name and comeet_uid")
	}
	pageURL := fmt.Sprintf("%s/%s/%s", a.PageURL, url.PathEscape(name), url.PathEscape(uid))
	key := string(crawler.KindComeet) + ":" + uid
	handshake := func(ctx context.Context) (string, error) {
		body, err := a.client.GetText(ctx, pageURL, map[string]string{"Referer": pageURL})
		if err != nil {
			return "", fmt.Errorf("load careers page: %w", err)
		}
		return ExtractToken(body)
	}

	positions, err := a.positions(ctx, key, uid, pageURL, handshake)
	if errors.Is(err, crawler.ErrUnauthorized) {
		a.logger.Info("token rejected, refreshing", zap.String("target", target.Name))
		a.sessions.Invalidate(key)
		positions, err = a.positions(ctx, key, uid, pageURL, handshake)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch comeet %s: %w", target.Name, err)
	}

	records := make([]crawler.JobRecord, 0, len(positions))
	for _, p := range positions {
		location := ""
		if p.Location != nil {
			location = p.Location.Name
		}
		if !target.AllowsLocation(location) {
			continue
		}
		rec := crawler.JobRecord{
			ID:        p.UID,
			Company:   target.Name,
			Title:     p.Name,
			Location:  location,
			URL:       p.URLActivePage,
			PostedOn:  p.TimeUpdated,
			SourceTag: string(crawler.KindComeet),
		}
		if len(p.Details) > 0 {
			rec.Description = p.Details[0].Value
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *Adapter) positions(ctx context.Context, key, uid, referer string, handshake session.Handshake) ([]position, error) {
	token, err := a.sessions.Get(ctx, key, handshake)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/company/%s/positions?token=%s&details=true",
		a.APIURL, url.PathEscape(uid), url.QueryEscape(token))

	var raw json.RawMessage
	if err := a.client.GetJSON(ctx, endpoint, map[string]string{"Referer": referer}, &raw); err != nil {
		return nil, err
	}
	return decodePositions(raw)
}

// decodePositions accepts either a bare list or an object wrapping it.
func decodePositions(raw json.RawMessage) ([]position, error) {
	var list []position
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Positions []position `json:"positions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return wrapped.Positions, nil
}
