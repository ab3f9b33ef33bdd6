package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// mockFetcher serves canned pages by URL and counts attempts
type mockFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	failWith  map[string]error
	failTimes map[string]int // fail the first N calls for a URL
	calls     []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		pages:     make(map[string]string),
		failWith:  make(map[string]error),
		failTimes: make(map[string]int),
	}
}

func (m *mockFetcher) setPage(url, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[url] = html
}

func (m *mockFetcher) setError(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith[url] = err
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if n, ok := m.failTimes[url]; ok && n > 0 {
		m.failTimes[url] = n - 1
		return nil, errors.New("transient failure for " + url)
	}
	if err, ok := m.failWith[url]; ok {
		return nil, err
	}
	if html, ok := m.pages[url]; ok {
		return &FetchResult{Body: []byte(html), StatusCode: 200}, nil
	}
	return nil, errors.New("no page configured for " + url)
}

func (m *mockFetcher) callCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == url {
			n++
		}
	}
	return n
}

// mockCache is an in-memory CacheService without expiry handling
type mockCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string][]byte)}
}

func (m *mockCache) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return v, nil
}

func (m *mockCache) Set(key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// mockPublisher records published messages
type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	trimmed  int
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{messages: make(map[string][][]byte)}
}

func (m *mockPublisher) Publish(key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[key] = append(m.messages[key], message)
	return nil
}

func (m *mockPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimmed++
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) published(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.messages[key]...)
}

// staticExtractor returns fixed item URLs per listing page and a fixed
// field map per item URL
type staticExtractor struct {
	items  map[string][]string       // pageURL -> item URLs
	fields map[string]map[string]any // itemURL -> raw fields
	errOn  map[string]error          // pageURL -> listing error
}

func newStaticExtractor() *staticExtractor {
	return &staticExtractor{
		items:  make(map[string][]string),
		fields: make(map[string]map[string]any),
		errOn:  make(map[string]error),
	}
}

func (s *staticExtractor) ListItemURLs(_ []byte, pageURL string) ([]string, error) {
	if err, ok := s.errOn[pageURL]; ok {
		return nil, err
	}
	return s.items[pageURL], nil
}

func (s *staticExtractor) ExtractItem(_ []byte, itemURL string) (map[string]any, error) {
	fields, ok := s.fields[itemURL]
	if !ok {
		return nil, fmt.Errorf("no fields configured for %s", itemURL)
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

// noSleep replaces real sleeps in tests
func noSleep(time.Duration) {}

func testSanitizer() *Sanitizer {
	return NewSanitizer(SanitizerOptions{PriceMin: 100, PriceMax: 600000})
}

func itemFields(key, title string, price float64) map[string]any {
	return map[string]any{
		"natural_key": key,
		"title":       title,
		"price":       price,
		"source_url":  "https://shop.example.com/p/" + key,
	}
}
