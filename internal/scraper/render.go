package scraper

import (
	"context"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/helpers"
	"priceowl/scrapeworker/logger"
	apperr "priceowl/scrapeworker/pkg/errors"
)

// nearEmptyThreshold marks a rendered page as empty; anti-bot interstitials
// and dead pagination tails render as tiny documents
const nearEmptyThreshold = 1000

// RenderedPage is one page produced by a paginated browser walk
type RenderedPage struct {
	Page int
	URL  string
	HTML string
}

// RenderConfig controls a paginated browser walk
type RenderConfig struct {
	MaxPages        int
	PageParam       string
	HasNextSelector string
	MaxEmptyPages   int
	Delay           config.DelayRange
}

// RenderClient drives a headless browser for sources that need JavaScript
// execution. Render failures yield no content instead of errors so a broken
// page never aborts a run. One client is shared by all sources, which run
// concurrently, so its random source is mutex-guarded.
type RenderClient struct {
	browser *rod.Browser
	rotator *helpers.HeaderRotator
	timeout time.Duration
	log     *logger.Logger
	sleep   func(time.Duration)

	mu  sync.Mutex
	rnd *mrand.Rand
}

// NewRenderClient launches a headless browser and connects to it
func NewRenderClient(timeout time.Duration) (*RenderClient, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	controlURL, err := launcher.New().Headless(true).NoSandbox(true).Launch()
	if err != nil {
		return nil, apperr.NewRender("", "failed to launch browser", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, apperr.NewRender("", "failed to connect to browser", err)
	}
	return &RenderClient{
		browser: browser,
		rotator: helpers.NewHeaderRotator(),
		timeout: timeout,
		log:     logger.ForComponent("render"),
		sleep:   time.Sleep,
		rnd:     mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close shuts the browser down
func (r *RenderClient) Close() error {
	return r.browser.Close()
}

// RenderPage loads the URL, waits for the page to settle and returns its
// HTML. An empty string means the render failed or produced nothing.
func (r *RenderClient) RenderPage(url string, wait time.Duration) string {
	html, err := r.renderPage(url, wait)
	if err != nil {
		r.log.Warn().Err(err).Str("url", url).Msg("Render failed")
		return ""
	}
	return html
}

func (r *RenderClient) renderPage(url string, wait time.Duration) (string, error) {
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", apperr.NewRender("", "failed to open page", err)
	}
	defer page.Close()

	if err := r.preparePage(page, url, wait); err != nil {
		return "", err
	}
	html, err := page.HTML()
	if err != nil {
		return "", apperr.NewRender("", "failed to read page html", err)
	}
	return html, nil
}

func (r *RenderClient) preparePage(page *rod.Page, url string, wait time.Duration) error {
	err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: r.rotator.RandomUserAgent(),
	})
	if err != nil {
		return apperr.NewRender("", "failed to set user agent", err)
	}
	if err := page.Timeout(r.timeout).Navigate(url); err != nil {
		return apperr.NewRender("", "failed to navigate to "+url, err)
	}
	if err := page.Timeout(r.timeout).WaitLoad(); err != nil {
		return apperr.NewRender("", "page load timed out for "+url, err)
	}
	if wait > 0 {
		r.sleep(wait)
	}
	return nil
}

// RenderPaginated walks numbered pages of a listing until the page budget
// runs out, MaxEmptyPages consecutive pages render near-empty, or the
// next-page signal disappears
func (r *RenderClient) RenderPaginated(ctx context.Context, baseURL string, cfg RenderConfig) []RenderedPage {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.MaxEmptyPages <= 0 {
		cfg.MaxEmptyPages = 3
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.Delay.Min <= 0 {
		cfg.Delay = config.DelayRange{Min: 3 * time.Second, Max: 6 * time.Second}
	}

	var pages []RenderedPage
	consecutiveEmpty := 0
	for n := 1; n <= cfg.MaxPages; n++ {
		if ctx.Err() != nil {
			break
		}
		url := pageURL(baseURL, cfg.PageParam, n)
		html := r.RenderPage(url, 2*time.Second)

		if len(html) < nearEmptyThreshold {
			consecutiveEmpty++
			r.log.Debug().Str("url", url).Int("consecutive_empty", consecutiveEmpty).
				Msg("Rendered page near empty")
			if consecutiveEmpty >= cfg.MaxEmptyPages {
				break
			}
			continue
		}
		consecutiveEmpty = 0
		pages = append(pages, RenderedPage{Page: n, URL: url, HTML: html})

		if cfg.HasNextSelector != "" && !hasNextPage(html, cfg.HasNextSelector) {
			break
		}
		if n < cfg.MaxPages {
			r.sleep(r.delay(cfg.Delay))
		}
	}
	return pages
}

// RenderInfiniteScroll scrolls the page to the bottom up to scrollCount
// times, stopping early once the page height stops growing
func (r *RenderClient) RenderInfiniteScroll(url string, scrollCount int) string {
	if scrollCount <= 0 {
		scrollCount = 5
	}
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to open page for infinite scroll")
		return ""
	}
	defer page.Close()

	if err := r.preparePage(page, url, 2*time.Second); err != nil {
		r.log.Warn().Err(err).Str("url", url).Msg("Render failed")
		return ""
	}

	lastHeight := r.pageHeight(page)
	stale := 0
	for i := 0; i < scrollCount; i++ {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			break
		}
		r.sleep(2 * time.Second)
		height := r.pageHeight(page)
		if height <= lastHeight {
			stale++
			if stale >= 2 {
				break
			}
		} else {
			stale = 0
		}
		lastHeight = height
	}

	html, err := page.HTML()
	if err != nil {
		r.log.Warn().Err(err).Str("url", url).Msg("Failed to read scrolled page")
		return ""
	}
	return html
}

// delay draws a randomized pause under the client's lock
func (r *RenderClient) delay(w config.DelayRange) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return randomDelay(r.rnd, w)
}

func (r *RenderClient) pageHeight(page *rod.Page) int {
	res, err := page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// hasNextPage reports whether the next-page selector matches in the HTML
func hasNextPage(html, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

// pageURL appends the page number as a query parameter
func pageURL(baseURL, param string, page int) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", baseURL, sep, param, page)
}

func randomDelay(rnd *mrand.Rand, w config.DelayRange) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(rnd.Int63n(int64(w.Max-w.Min)))
}

// renderFetcher adapts RenderClient to the Fetcher interface so the
// pagination loop can fetch item pages through the browser
type renderFetcher struct {
	client   *RenderClient
	sourceID string
	wait     time.Duration
}

// NewRenderFetcher wraps a RenderClient as a Fetcher
func NewRenderFetcher(client *RenderClient, sourceID string) Fetcher {
	return &renderFetcher{client: client, sourceID: sourceID, wait: 2 * time.Second}
}

func (r *renderFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.NewRender(r.sourceID, "render cancelled", err)
	}
	html := r.client.RenderPage(url, r.wait)
	if html == "" {
		return nil, apperr.NewRender(r.sourceID, "render produced no content for "+url, nil)
	}
	return &FetchResult{Body: []byte(html), StatusCode: 200}, nil
}
