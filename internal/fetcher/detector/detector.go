// Package detector decides when a career page has to be rendered in a
// headless browser before its postings can be read.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

const defaultMinTextBytes = 512

// mountPoints are the root elements client-side frameworks hydrate into.
var mountPoints = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
	"[data-server-rendered]",
}

// Heuristic flags pages whose static HTML is an application shell.
type Heuristic struct {
	// MinTextBytes is the amount of visible text under which a page that
	// ships scripts is treated as a shell.
	MinTextBytes int
}

// New returns a Heuristic. A non-positive minText uses the default.
func New(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minText}
}

// NeedsRender reports whether resp looks like it only becomes a job list
// after scripts run. Non-200 responses never do.
func (h *Heuristic) NeedsRender(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script").Length()
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")

	for _, sel := range mountPoints {
		mount := doc.Find(sel).First()
		if mount.Length() == 0 {
			continue
		}
		if strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	return scripts > 0 && len(text) < h.MinTextBytes
}
