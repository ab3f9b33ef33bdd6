package scraper

import (
	"context"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"priceowl/scrapeworker/helpers"
	"priceowl/scrapeworker/logger"
	apperr "priceowl/scrapeworker/pkg/errors"
	"priceowl/scrapeworker/services/cache"
)

// blockDuration is how long a source stays blocked after it rate limits us
const blockDuration = 5 * time.Minute

// FetchOptions configures a FetchClient
type FetchOptions struct {
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Proxies           *ProxyPool
	FixedHeaders      map[string]string
	Cache             cache.CacheService
}

// FetchClient performs HTTP GETs with rotating headers, proxy assignment
// and bounded retries with backoff
type FetchClient struct {
	client       *http.Client
	rotator      *helpers.HeaderRotator
	fixedHeaders map[string]string
	proxies      *ProxyPool
	cache        cache.CacheService
	limiter      *rate.Limiter
	maxRetries   int
	timeout      time.Duration
	sourceID     string
	log          *logger.Logger
	sleep        func(time.Duration)
	rnd          *mrand.Rand
}

// NewFetchClient creates a fetch client for one source
func NewFetchClient(sourceID string, opts FetchOptions) *FetchClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	c := &FetchClient{
		client:       &http.Client{Timeout: opts.Timeout},
		rotator:      helpers.NewHeaderRotator(),
		fixedHeaders: opts.FixedHeaders,
		proxies:      opts.Proxies,
		cache:        opts.Cache,
		maxRetries:   opts.MaxRetries,
		timeout:      opts.Timeout,
		sourceID:     sourceID,
		log:          logger.ForSource(sourceID),
		sleep:        time.Sleep,
		rnd:          mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

func blockKey(sourceID string) string {
	return "block:" + sourceID
}

// Fetch implements Fetcher. It retries transient failures up to the
// configured attempt count with exponential backoff plus jitter.
func (c *FetchClient) Fetch(ctx context.Context, target string) (*FetchResult, error) {
	if c.cache != nil {
		if _, err := c.cache.Get(blockKey(c.sourceID)); err == nil {
			return nil, apperr.NewRateLimit(c.sourceID, blockDuration)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.NewNetwork(c.sourceID, "rate limiter interrupted", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(c.backoff(attempt))
		}
		if err := ctx.Err(); err != nil {
			return nil, apperr.NewNetwork(c.sourceID, "fetch cancelled", err)
		}

		proxy, usingProxy := "", false
		if c.proxies != nil {
			proxy, usingProxy = c.proxies.Next()
		}
		c.log.Debug().
			Str("url", target).
			Int("attempt", attempt+1).
			Bool("proxy", usingProxy).
			Str("proxy_addr", MaskProxy(proxy)).
			Msg("Fetching URL")

		result, retryable, err := c.attempt(ctx, target, proxy)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if usingProxy {
			c.proxies.MarkFailed(proxy)
		}
		if !retryable {
			return nil, err
		}
	}
	return nil, apperr.NewNetwork(c.sourceID,
		fmt.Sprintf("fetch failed after %d attempts for %s", c.maxRetries, target), lastErr)
}

// attempt issues a single GET. The second return reports whether the
// failure is worth another attempt.
func (c *FetchClient) attempt(ctx context.Context, target, proxy string) (*FetchResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, apperr.NewNetwork(c.sourceID, "invalid request", err)
	}
	c.applyHeaders(req)

	client := c.client
	if proxy != "" {
		proxyURL, perr := url.Parse(proxy)
		if perr != nil {
			return nil, true, apperr.NewConfiguration("invalid proxy url "+MaskProxy(proxy), perr)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			Timeout:   c.timeout,
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, apperr.NewNetwork(c.sourceID, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.cache != nil {
			if cerr := c.cache.Set(blockKey(c.sourceID), []byte(target), blockDuration); cerr != nil {
				c.log.Warn().Err(cerr).Msg("Failed to store block marker")
			}
		}
		return nil, false, apperr.NewRateLimit(c.sourceID, blockDuration)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, true, apperr.NewNetwork(c.sourceID,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, target), nil)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, true, apperr.NewNetwork(c.sourceID, "failed to read response body", err)
	}
	return &FetchResult{Body: body, StatusCode: resp.StatusCode}, false, nil
}

func (c *FetchClient) applyHeaders(req *http.Request) {
	if len(c.fixedHeaders) > 0 {
		for k, v := range c.fixedHeaders {
			req.Header.Set(k, v)
		}
		return
	}
	req.Header = c.rotator.RandomHeaders()
}

// backoff returns 2^attempt seconds plus one to three seconds of jitter
func (c *FetchClient) backoff(attempt int) time.Duration {
	exp := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	jitter := time.Duration(1+c.rnd.Intn(3)) * time.Second
	return exp + jitter
}
