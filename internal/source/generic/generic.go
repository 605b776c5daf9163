// Package generic extracts postings from arbitrary career pages using CSS
// selectors configured per target.
package generic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/fetcher/detector"
)

const (
	defaultRenderSettle = 8 * time.Second
	minFallbackTitleLen = 6
)

var (
	jobLinkPattern = regexp.MustCompile(`(?i)joborderid=|job_id=|posting/|/position/`)

	// titleNoise marks anchor text that belongs to share or navigation
	// widgets rather than a posting title.
	titleNoise = []string{
		"whatsapp", "share", "copy link", "save job", "facebook", "linkedin", "browse positions",
	}
)

// Adapter implements crawler.OneShotAdapter over a page Fetcher.
//
// Target params:
//   - url: the listing page (required)
//   - row_selector, title_selector, link_selector: CSS selectors; without a
//     row selector every anchor whose href looks like a job link is used
//   - base_url: prefix for relative links, defaults to the page URL
//   - location: location stamped on every record
//   - render, render_sleep: fetch through a headless browser, waiting
//     render_sleep seconds for scripts to settle; render=auto fetches the
//     static page first and renders only when it yields nothing and looks
//     like an application shell
type Adapter struct {
	fetcher  crawler.Fetcher
	detector *detector.Heuristic
}

// New constructs an Adapter using fetcher for page loads.
func New(fetcher crawler.Fetcher) *Adapter {
	return &Adapter{fetcher: fetcher, detector: detector.New(0)}
}

// FetchAll loads the page and extracts one record per row.
func (a *Adapter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	pageURL := target.Param("url")
	if pageURL == "" {
		return nil, errors.New("generic target needs url")
	}
	mode := strings.ToLower(target.Param("render"))
	auto := mode == "auto"
	req := crawler.FetchRequest{URL: pageURL}
	if render, _ := strconv.ParseBool(mode); render {
		req.Render = true
		req.Settle = renderSettle(target)
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Name, err)
	}
	records, err := Extract(resp.Body, target, baseFor(target, resp, pageURL))
	if err != nil || !auto || len(records) > 0 || !a.detector.NeedsRender(resp) {
		return records, err
	}

	rendered, err := a.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL, Render: true, Settle: renderSettle(target)})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", target.Name, err)
	}
	return Extract(rendered.Body, target, baseFor(target, rendered, pageURL))
}

func renderSettle(target crawler.Target) time.Duration {
	if secs, err := strconv.ParseFloat(target.Param("render_sleep"), 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultRenderSettle
}

func baseFor(target crawler.Target, resp crawler.FetchResponse, pageURL string) string {
	if base := target.Param("base_url"); base != "" {
		return base
	}
	if resp.URL != "" {
		return resp.URL
	}
	return pageURL
}

// Extract parses an HTML document into records. Records with no link or no
// usable title are skipped, as are records outside the target's location
// allow-list.
func Extract(body []byte, target crawler.Target, base string) ([]crawler.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", base, err)
	}

	location := target.Param("location")
	if !target.AllowsLocation(location) {
		return nil, nil
	}

	var records []crawler.JobRecord
	seen := make(map[string]struct{})
	add := func(title, href string) {
		link := resolve(baseURL, href)
		if title == "" || link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		records = append(records, crawler.JobRecord{
			ID:        link,
			Company:   target.Name,
			Title:     title,
			Location:  location,
			URL:       link,
			SourceTag: string(crawler.KindGeneric),
		})
	}

	rowSel := target.Param("row_selector")
	var rows *goquery.Selection
	if rowSel != "" {
		rows = doc.Find(rowSel)
	}
	if rows == nil || rows.Length() == 0 {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if jobLinkPattern.MatchString(href) {
				add(clean(s.Text()), href)
			}
		})
		return records, nil
	}

	titleSel, linkSel := target.Param("title_selector"), target.Param("link_selector")
	rows.Each(func(_ int, row *goquery.Selection) {
		var link *goquery.Selection
		if linkSel != "" {
			link = row.Find(linkSel).First()
		} else if row.Is("a[href]") {
			link = row
		} else {
			link = row.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok {
			return
		}

		title := ""
		if titleSel != "" {
			title = clean(row.Find(titleSel).First().Text())
		}
		if title == "" || isNoise(title) {
			title = fallbackTitle(row)
		}
		add(title, href)
	})
	return records, nil
}

// fallbackTitle picks the first descendant with enough non-noise text.
func fallbackTitle(row *goquery.Selection) string {
	var title string
	row.Find("p, span, h1, h2, h3, h4, a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := clean(s.Text())
		if len(text) >= minFallbackTitleLen && !isNoise(text) {
			title = text
			return false
		}
		return true
	})
	return title
}

func isNoise(title string) bool {
	lower := strings.ToLower(title)
	for _, word := range titleNoise {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
