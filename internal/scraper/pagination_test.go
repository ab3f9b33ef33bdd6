package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/services/repository"
)

const listingBase = "https://shop.example.com/category"

func page(n int) string {
	return pageURL(listingBase, "page", n)
}

func item(key string) string {
	return "https://shop.example.com/p/" + key
}

// testListing wires a controller over mocks. Listing pages carry a stub
// body; the static extractor decides what they yield.
func testListing(src *Source) (*PaginationController, *mockFetcher, *staticExtractor, *repository.MemoryRepository) {
	fetcher := newMockFetcher()
	extractor := newStaticExtractor()
	repo := repository.NewMemoryRepository()
	src.Extractor = extractor

	controller := NewPaginationController(src, fetcher, testSanitizer(), repo)
	controller.sleep = noSleep
	controller.SetRequiredFields([]string{"natural_key", "title"})
	return controller, fetcher, extractor, repo
}

func addItem(fetcher *mockFetcher, extractor *staticExtractor, key string) {
	fetcher.setPage(item(key), "<html>item</html>")
	extractor.fields[item(key)] = itemFields(key, "Product "+key, 1500)
}

func TestPaginationHappyPath(t *testing.T) {
	src := &Source{ID: "testsource"}
	controller, fetcher, extractor, repo := testListing(src)

	fetcher.setPage(page(1), "<html>page1</html>")
	fetcher.setPage(page(2), "<html>page2</html>")
	for _, p := range []int{3, 4, 5} {
		fetcher.setPage(page(p), "<html>empty</html>")
	}
	extractor.items[page(1)] = []string{item("A"), item("B")}
	extractor.items[page(2)] = []string{item("C")}
	addItem(fetcher, extractor, "A")
	addItem(fetcher, extractor, "B")
	addItem(fetcher, extractor, "C")

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Found)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 5, result.PagesProcessed)

	n, err := repo.CountActive(context.Background(), "testsource")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Stopped on three consecutive empty pages, well before MaxPages
	assert.Equal(t, 0, fetcher.callCount(page(6)))
}

func TestPaginationStopsOnConsecutiveEmptyPages(t *testing.T) {
	src := &Source{ID: "testsource", MaxEmptyPages: 2, MaxPages: 10}
	controller, fetcher, extractor, _ := testListing(src)

	fetcher.setPage(page(1), "<html>page1</html>")
	fetcher.setPage(page(2), "<html>empty</html>")
	fetcher.setPage(page(3), "<html>empty</html>")
	fetcher.setPage(page(4), "<html>never reached</html>")
	extractor.items[page(1)] = []string{item("A"), item("B")}
	addItem(fetcher, extractor, "A")
	addItem(fetcher, extractor, "B")

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 0, fetcher.callCount(page(4)))
}

func TestPaginationAlwaysEmptyStopsAtThreshold(t *testing.T) {
	src := &Source{ID: "testsource", MaxPages: 50}
	controller, fetcher, _, _ := testListing(src)

	for p := 1; p <= 10; p++ {
		fetcher.setPage(page(p), "<html>empty</html>")
	}

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	// Default empty-page threshold is 3, not MaxPages
	assert.Equal(t, 0, result.Found)
	assert.Equal(t, 3, result.PagesProcessed)
	assert.Equal(t, 0, fetcher.callCount(page(4)))
}

func TestPaginationDelaysAfterFailedPages(t *testing.T) {
	src := &Source{
		ID:             "testsource",
		MaxPages:       5,
		InterPageDelay: config.DelayRange{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond},
	}
	controller, fetcher, extractor, _ := testListing(src)

	fetcher.setError(page(1), errors.New("boom"))
	fetcher.setError(page(2), errors.New("boom"))
	fetcher.setPage(page(3), "<html>page3</html>")
	fetcher.setPage(page(4), "<html>empty</html>")
	fetcher.setPage(page(5), "<html>empty</html>")
	extractor.items[page(3)] = []string{item("A")}
	addItem(fetcher, extractor, "A")

	var slept []time.Duration
	controller.sleep = func(d time.Duration) { slept = append(slept, d) }

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 2, result.Errors)

	// Pages 1 and 2 failed but still paused before the next page, same as
	// the successful pages 3 and 4; page 5 is the last so no pause follows
	require.Len(t, slept, 4)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, src.InterPageDelay.Min)
		assert.Less(t, d, src.InterPageDelay.Max)
	}
}

func TestPaginationStopsOnConsecutiveErrors(t *testing.T) {
	src := &Source{ID: "testsource", MaxConsecutiveErrors: 3, MaxPages: 10}
	controller, fetcher, _, _ := testListing(src)

	for p := 1; p <= 10; p++ {
		fetcher.setError(page(p), errors.New("boom"))
	}

	var trail []string
	controller.OnError(func(stage string, err error) {
		trail = append(trail, stage)
	})

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Errors)
	assert.Equal(t, []string{"page 1", "page 2", "page 3"}, trail)
	assert.Equal(t, 0, fetcher.callCount(page(4)))
}

func TestPaginationErrorCounterResets(t *testing.T) {
	src := &Source{ID: "testsource", MaxConsecutiveErrors: 2, MaxPages: 4}
	controller, fetcher, extractor, _ := testListing(src)

	fetcher.setError(page(1), errors.New("boom"))
	fetcher.setPage(page(2), "<html>page2</html>")
	fetcher.setError(page(3), errors.New("boom"))
	fetcher.setPage(page(4), "<html>page4</html>")
	extractor.items[page(2)] = []string{item("A")}
	extractor.items[page(4)] = []string{item("B")}
	addItem(fetcher, extractor, "A")
	addItem(fetcher, extractor, "B")

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	// Successes between failures keep the consecutive counter below the
	// threshold, so all four pages are visited
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 2, result.Errors)
}

func TestPaginationRetriesFailedPages(t *testing.T) {
	src := &Source{
		ID:               "testsource",
		MaxPages:         2,
		RetryFailedPages: true,
	}
	controller, fetcher, extractor, _ := testListing(src)

	fetcher.setPage(page(1), "<html>page1</html>")
	fetcher.setPage(page(2), "<html>page2</html>")
	fetcher.failTimes[page(2)] = 2 // fails in the main pass and the first retry
	extractor.items[page(1)] = []string{item("A")}
	extractor.items[page(2)] = []string{item("B")}
	addItem(fetcher, extractor, "A")
	addItem(fetcher, extractor, "B")

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	// Main attempt + two retries, the second retry succeeds
	assert.Equal(t, 3, fetcher.callCount(page(2)))
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 2, result.Created)
}

func TestPaginationRetryBudgetExhausted(t *testing.T) {
	src := &Source{
		ID:                "testsource",
		MaxPages:          1,
		RetryFailedPages:  true,
		MaxRetriesPerPage: 2,
	}
	controller, fetcher, _, _ := testListing(src)
	fetcher.setError(page(1), errors.New("permanent"))

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.callCount(page(1)))
	assert.Equal(t, 3, result.Errors)
	assert.Equal(t, 0, result.PagesProcessed)
}

func TestPaginationRespectsTimeBudget(t *testing.T) {
	src := &Source{ID: "testsource"}
	controller, fetcher, _, _ := testListing(src)
	controller.SetDeadline(time.Now().Add(-time.Second))

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 0, result.PagesProcessed)
	assert.Empty(t, fetcher.calls)
}

func TestPaginationSkipsInvalidItems(t *testing.T) {
	src := &Source{ID: "testsource"}
	controller, fetcher, extractor, repo := testListing(src)

	fetcher.setPage(page(1), "<html>page1</html>")
	for _, p := range []int{2, 3, 4} {
		fetcher.setPage(page(p), "<html>empty</html>")
	}
	extractor.items[page(1)] = []string{item("GOOD"), item("BAD")}
	addItem(fetcher, extractor, "GOOD")
	fetcher.setPage(item("BAD"), "<html>item</html>")
	extractor.fields[item("BAD")] = map[string]any{
		"natural_key": "BAD",
		"price":       250.0, // no title
	}

	var trail []string
	controller.OnError(func(stage string, err error) {
		trail = append(trail, stage)
	})

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, trail, 1)
	assert.Contains(t, trail[0], "item ")

	n, err := repo.CountActive(context.Background(), "testsource")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPaginationExtractorPanicIsPageError(t *testing.T) {
	src := &Source{ID: "testsource", MaxConsecutiveErrors: 1}
	controller, fetcher, _, _ := testListing(src)

	fetcher.setPage(page(1), "<html>page1</html>")
	controller.source.Extractor = panicExtractor{}

	result, err := controller.Run(context.Background(), listingBase)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
}

type panicExtractor struct{}

func (panicExtractor) ListItemURLs([]byte, string) ([]string, error) {
	panic("unexpected markup")
}

func (panicExtractor) ExtractItem([]byte, string) (map[string]any, error) {
	panic("unexpected markup")
}
