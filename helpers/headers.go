package helpers

import (
	mathrand "math/rand"
	"net/http"
	"sync"
	"time"
)

// Pools of realistic browser header values; one value is picked per request
// to reduce fingerprinting.
var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}

	acceptLanguages = []string{
		"en-US,en;q=0.9",
		"en-GB,en;q=0.9",
		"en-IN,en;q=0.9",
		"en-US,en;q=0.8,en-IN;q=0.7",
	}

	secFetchSites = []string{"none", "same-origin", "cross-site"}
)

// HeaderRotator supplies randomized browser-like request headers. Safe for
// concurrent use; one rotator may serve several sources at once.
type HeaderRotator struct {
	mu  sync.Mutex
	rnd *mathrand.Rand
}

// NewHeaderRotator creates a header rotator with its own random source
func NewHeaderRotator() *HeaderRotator {
	return &HeaderRotator{
		rnd: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (h *HeaderRotator) intn(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rnd.Intn(n)
}

// RandomUserAgent returns a user agent picked uniformly from the pool
func (h *HeaderRotator) RandomUserAgent() string {
	return userAgents[h.intn(len(userAgents))]
}

// RandomHeaders returns a full randomized header set for one request.
// Accept-Encoding is left unset; the HTTP transport negotiates it and
// transparently decompresses the response.
func (h *HeaderRotator) RandomHeaders() http.Header {
	headers := http.Header{}
	headers.Set("User-Agent", h.RandomUserAgent())
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	headers.Set("Accept-Language", acceptLanguages[h.intn(len(acceptLanguages))])
	headers.Set("Connection", "keep-alive")
	headers.Set("Upgrade-Insecure-Requests", "1")
	headers.Set("Sec-Fetch-Dest", "document")
	headers.Set("Sec-Fetch-Mode", "navigate")
	headers.Set("Sec-Fetch-Site", secFetchSites[h.intn(len(secFetchSites))])
	headers.Set("Sec-Fetch-User", "?1")
	if h.intn(2) == 1 {
		headers.Set("DNT", "1")
	} else {
		headers.Set("DNT", "0")
	}
	if h.intn(2) == 1 {
		headers.Set("Cache-Control", "max-age=0")
	} else {
		headers.Set("Cache-Control", "no-cache")
	}
	return headers
}

// SessionHeaders returns randomized headers that mimic an in-session
// navigation, optionally with a Referer and client-hint headers
func (h *HeaderRotator) SessionHeaders(referer string) http.Header {
	headers := h.RandomHeaders()

	if referer != "" {
		headers.Set("Referer", referer)
	}

	// Client hints are attached randomly so not every request carries them
	if h.intn(2) == 1 {
		headers.Set("Sec-CH-UA", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
		headers.Set("Sec-CH-UA-Mobile", "?0")
		headers.Set("Sec-CH-UA-Platform", `"Windows"`)
	}

	return headers
}
