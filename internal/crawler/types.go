package crawler

import (
	"net/http"
	"strings"
	"time"
)

// SourceKind identifies which adapter handles a target.
type SourceKind string

// Known source kinds.
const (
	KindGreenhouse      SourceKind = "greenhouse"
	KindLever           SourceKind = "lever"
	KindSmartRecruiters SourceKind = "smartrecruiters"
	KindWorkday         SourceKind = "workday"
	KindComeet          SourceKind = "comeet"
	KindAdzuna          SourceKind = "adzuna"
	KindGeneric         SourceKind = "generic"
)

// TotalUnknown marks a page whose vendor did not report a result total.
const TotalUnknown = -1

// Target is one configured company/source to scan.
type Target struct {
	Name      string            `json:"name" mapstructure:"name"`
	Kind      SourceKind        `json:"kind" mapstructure:"kind"`
	Locations []string          `json:"locations,omitempty" mapstructure:"locations"`
	Params    map[string]string `json:"params,omitempty" mapstructure:"params"`
}

// Param returns the named parameter or an empty string.
func (t Target) Param(key string) string {
	if t.Params == nil {
		return ""
	}
	return t.Params[key]
}

// AllowsLocation reports whether location passes the target's allow-list.
// Matching is a case-insensitive substring test; an empty list allows all.
func (t Target) AllowsLocation(location string) bool {
	if len(t.Locations) == 0 {
		return true
	}
	loc := strings.ToLower(location)
	if loc == "" {
		return false
	}
	for _, allowed := range t.Locations {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed != "" && strings.Contains(loc, allowed) {
			return true
		}
	}
	return false
}

// DescriptionHandle is an opaque secondary-fetch reference produced by an
// adapter whose listing pages omit the posting body.
type DescriptionHandle struct {
	Kind    SourceKind        `json:"kind"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// JobRecord is a normalized posting as emitted by adapters.
type JobRecord struct {
	ID                string             `json:"id"`
	Company           string             `json:"company"`
	Title             string             `json:"title"`
	Location          string             `json:"location"`
	URL               string             `json:"url"`
	PostedOn          string             `json:"posted_on"`
	Description       string             `json:"description,omitempty"`
	DescriptionHandle *DescriptionHandle `json:"description_handle,omitempty"`
	SourceTag         string             `json:"source_tag"`
}

// Relevance is the classification verdict stored with each job.
type Relevance int

// Relevance values.
const (
	RelevanceRejected Relevance = -1
	RelevancePending  Relevance = 0
	RelevanceRelevant Relevance = 1
)

// String renders the relevance for logs and API filters.
func (r Relevance) String() string {
	switch r {
	case RelevanceRelevant:
		return "relevant"
	case RelevanceRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// ParseRelevance maps a textual relevance back to its value.
func ParseRelevance(s string) (Relevance, bool) {
	switch s {
	case "relevant", "1":
		return RelevanceRelevant, true
	case "rejected", "-1":
		return RelevanceRejected, true
	case "pending", "0":
		return RelevancePending, true
	default:
		return RelevancePending, false
	}
}

// StoredJob is a JobRecord after persistence.
type StoredJob struct {
	JobRecord
	Relevance     Relevance `json:"relevance"`
	Reason        string    `json:"reason,omitempty"`
	TechStack     []string  `json:"tech_stack,omitempty"`
	YearsRequired int       `json:"years_required,omitempty"`
	Notified      bool      `json:"notified"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// Classification is the verdict the classifier returns for a job. It only
// exists for the relevant and rejected outcomes; an unknown verdict is
// reported as an error and the job stays RelevancePending.
type Classification struct {
	Relevant      bool     `json:"is_relevant"`
	Reason        string   `json:"reason"`
	TechStack     []string `json:"tech_stack"`
	YearsRequired int      `json:"years_required"`
}

// Page is one result page from a batched adapter.
type Page struct {
	Records    []JobRecord
	HasMore    bool
	KnownTotal int
	// Scanned is the raw vendor page length before any adapter-side
	// filtering. Zero means len(Records).
	Scanned int
}

// ScannedCount returns how many vendor rows the page carried.
func (p Page) ScannedCount() int {
	if p.Scanned > 0 {
		return p.Scanned
	}
	return len(p.Records)
}

// QueueItem is a unit of work for the ingestion consumer.
type QueueItem struct {
	Record   JobRecord
	Source   string
	Sentinel bool
}

// SentinelItem builds the end-of-stream marker.
func SentinelItem() QueueItem {
	return QueueItem{Sentinel: true}
}

// RunConfig carries per-run switches decided once before the run starts.
type RunConfig struct {
	FilteringEnabled      bool `json:"filtering_enabled" mapstructure:"filtering_enabled"`
	ClassificationEnabled bool `json:"classification_enabled" mapstructure:"classification_enabled"`
	NotificationsEnabled  bool `json:"notifications_enabled" mapstructure:"notifications_enabled"`
}

// InitialRelevance is the relevance assigned at insert time.
func (c RunConfig) InitialRelevance() Relevance {
	if c.ClassificationEnabled {
		return RelevancePending
	}
	return RelevanceRelevant
}

// FetchRequest asks a page fetcher for one HTML document.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Render requests a JavaScript-capable fetch.
	Render bool
	// Settle is how long a rendered page is given to finish scripting.
	Settle time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}
