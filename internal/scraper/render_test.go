package scraper

import (
	"context"
	mrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/helpers"
)

func TestPageURL(t *testing.T) {
	testCases := []struct {
		base     string
		param    string
		page     int
		expected string
	}{
		{"https://shop.example.com/category", "page", 2, "https://shop.example.com/category?page=2"},
		{"https://shop.example.com/category?sort=price", "page", 3, "https://shop.example.com/category?sort=price&page=3"},
		{"https://shop.example.com/search?q=mouse", "p", 1, "https://shop.example.com/search?q=mouse&p=1"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, pageURL(tc.base, tc.param, tc.page))
	}
}

func TestHasNextPage(t *testing.T) {
	html := `<html><body><div class="pager"><a class="next" href="?page=2">Next</a></div></body></html>`
	assert.True(t, hasNextPage(html, "a.next"))
	assert.False(t, hasNextPage(html, "a.prev"))
	assert.False(t, hasNextPage("not html at all", "a.next"))
}

func TestRandomDelayWindow(t *testing.T) {
	rnd := mrand.New(mrand.NewSource(1))
	window := config.DelayRange{Min: 3 * time.Second, Max: 6 * time.Second}
	for i := 0; i < 100; i++ {
		d := randomDelay(rnd, window)
		assert.GreaterOrEqual(t, d, window.Min)
		assert.Less(t, d, window.Max)
	}

	// Degenerate window collapses to the minimum
	fixed := config.DelayRange{Min: 2 * time.Second, Max: 2 * time.Second}
	assert.Equal(t, 2*time.Second, randomDelay(rnd, fixed))
}

func TestRenderClientSharedAcrossSources(t *testing.T) {
	// Two browser-rendered sources may draw delays and user agents from
	// the same client at the same time
	client := &RenderClient{
		rotator: helpers.NewHeaderRotator(),
		rnd:     mrand.New(mrand.NewSource(1)),
	}
	window := config.DelayRange{Min: time.Millisecond, Max: 5 * time.Millisecond}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d := client.delay(window)
				assert.GreaterOrEqual(t, d, window.Min)
				assert.Less(t, d, window.Max)
				assert.NotEmpty(t, client.rotator.RandomUserAgent())
			}
		}()
	}
	wg.Wait()
}

func TestRenderFetcherRequiresContent(t *testing.T) {
	// Context cancellation surfaces before the browser is touched
	fetcher := NewRenderFetcher(nil, "testsource")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, "https://shop.example.com")
	assert.Error(t, err)
}
