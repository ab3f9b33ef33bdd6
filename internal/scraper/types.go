// Package scraper implements the crawl engine: fetch, render, sanitize,
// paginate and coordinate one run per source.
package scraper

import (
	"context"
	"time"

	"priceowl/scrapeworker/config"
)

// FetchResult is the raw outcome of fetching one URL
type FetchResult struct {
	Body       []byte
	StatusCode int
}

// Fetcher retrieves the content of an absolute URL. Both the HTTP client
// and the browser renderer satisfy it, so the pagination loop stays
// strategy-agnostic.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// Extractor turns fetched pages into item URLs and raw field maps. It is
// source-specific and injected per source.
type Extractor interface {
	// ListItemURLs returns the candidate item URLs found on a listing page
	ListItemURLs(pageHTML []byte, pageURL string) ([]string, error)

	// ExtractItem returns the raw field map for one item page
	ExtractItem(pageHTML []byte, itemURL string) (map[string]any, error)
}

// PaginationType selects how a browser-rendered source is traversed
type PaginationType string

const (
	PaginationPageParam      PaginationType = "page_param"
	PaginationInfiniteScroll PaginationType = "infinite_scroll"
)

// Source is the per-platform crawl configuration
type Source struct {
	ID          string
	ListingURLs []string

	// Rendering strategy
	UseBrowserRendering bool
	PaginationType      PaginationType
	ScrollCount         int

	// Anti-blocking fallback: after FallbackAfterEmptyPages listing URLs
	// in a row yield zero items over HTTP, switch to browser rendering
	// for the rest of the run
	FallbackToBrowser       bool
	FallbackAfterEmptyPages int

	// Pagination
	MaxPages             int
	PageParam            string
	HasNextSelector      string
	MaxEmptyPages        int
	MaxConsecutiveErrors int
	InterPageDelay       config.DelayRange
	RetryFailedPages     bool
	MaxRetriesPerPage    int

	// FixedHeaders replaces rotating headers when set
	FixedHeaders map[string]string

	Extractor Extractor
}

// withDefaults fills unset knobs so callers can configure sparsely
func (s *Source) withDefaults() *Source {
	cp := *s
	if cp.MaxPages <= 0 {
		cp.MaxPages = 50
	}
	if cp.PageParam == "" {
		cp.PageParam = "page"
	}
	if cp.MaxEmptyPages <= 0 {
		cp.MaxEmptyPages = 3
	}
	if cp.MaxConsecutiveErrors <= 0 {
		cp.MaxConsecutiveErrors = 3
	}
	if cp.MaxRetriesPerPage <= 0 {
		cp.MaxRetriesPerPage = 2
	}
	if cp.FallbackAfterEmptyPages <= 0 {
		cp.FallbackAfterEmptyPages = 2
	}
	if cp.ScrollCount <= 0 {
		cp.ScrollCount = 5
	}
	if cp.InterPageDelay.Min <= 0 {
		cp.InterPageDelay = config.DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}
	}
	return &cp
}
