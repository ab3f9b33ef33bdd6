package scraper

import (
	"net/url"
	"strings"
	"sync"

	"priceowl/scrapeworker/logger"
)

// ProxyPool rotates over a fixed proxy list, skipping proxies that failed.
// When every proxy has failed the failed set is cleared so fetching never
// stalls on proxy exhaustion.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []string
	failed  map[string]bool
	idx     int
	log     *logger.Logger
}

// NewProxyPool builds a pool from the given proxy URLs, dropping duplicates
// and blank entries
func NewProxyPool(proxies []string) *ProxyPool {
	pool := &ProxyPool{
		failed: make(map[string]bool),
		log:    logger.ForComponent("proxy_pool"),
	}
	seen := make(map[string]bool)
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		pool.proxies = append(pool.proxies, p)
	}
	return pool
}

// HasAny reports whether the pool holds any proxies at all
func (p *ProxyPool) HasAny() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies) > 0
}

// Size returns the number of distinct proxies loaded
func (p *ProxyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Next returns the next available proxy in round-robin order. When all
// proxies are marked failed the failed set resets first.
func (p *ProxyPool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return "", false
	}
	if len(p.failed) >= len(p.proxies) {
		p.log.Warn().Int("proxies", len(p.proxies)).Msg("All proxies failed, resetting failed set")
		p.failed = make(map[string]bool)
	}
	for range p.proxies {
		proxy := p.proxies[p.idx%len(p.proxies)]
		p.idx++
		if !p.failed[proxy] {
			return proxy, true
		}
	}
	return "", false
}

// MarkFailed records a proxy as failed so rotation skips it
func (p *ProxyPool) MarkFailed(proxy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if proxy == "" {
		return
	}
	if !p.failed[proxy] {
		p.failed[proxy] = true
		p.log.Debug().Str("proxy", MaskProxy(proxy)).Msg("Proxy marked failed")
	}
}

// MaskProxy redacts credentials from a proxy URL for logging
func MaskProxy(proxy string) string {
	u, err := url.Parse(proxy)
	if err == nil && u.User != nil {
		u.User = url.UserPassword("***", "***")
		return u.String()
	}
	if i := strings.Index(proxy, "@"); i >= 0 {
		return "***@" + proxy[i+1:]
	}
	return proxy
}
