package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePriceStrings(t *testing.T) {
	s := testSanitizer()

	testCases := []struct {
		name     string
		raw      any
		expected float64
		dropped  bool
	}{
		{"rupee with separators", "₹45,999.00", 45999.00, false},
		{"dollar", "$1,299.50", 1299.5, false},
		{"plain number", 2500.0, 2500, false},
		{"below minimum", "99", 0, true},
		{"above maximum", "9999999", 0, true},
		{"not a number", "call for price", 0, true},
		{"empty", "", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := s.Sanitize(map[string]any{"price": tc.raw})
			if tc.dropped {
				assert.NotContains(t, out, "price")
				return
			}
			require.Contains(t, out, "price")
			assert.Equal(t, tc.expected, out["price"])
		})
	}
}

func TestSanitizeSalePriceRepair(t *testing.T) {
	s := testSanitizer()

	// A sale price above the regular price is dropped, not swapped
	out := s.Sanitize(map[string]any{"price": "1000", "sale_price": "1500"})
	assert.Equal(t, 1000.0, out["price"])
	assert.NotContains(t, out, "sale_price")

	out = s.Sanitize(map[string]any{"price": "1500", "sale_price": "1000"})
	assert.Equal(t, 1500.0, out["price"])
	assert.Equal(t, 1000.0, out["sale_price"])
}

func TestSanitizeRating(t *testing.T) {
	s := testSanitizer()

	testCases := []struct {
		raw      any
		expected float64
		dropped  bool
	}{
		{"4.3 out of 5 stars", 4.3, false},
		{"Rated 5", 5, false},
		{4.0, 4, false},
		{"9.7 out of 10", 0, true},
		{"no rating yet", 0, true},
	}
	for _, tc := range testCases {
		out := s.Sanitize(map[string]any{"rating": tc.raw})
		if tc.dropped {
			assert.NotContains(t, out, "rating", "raw=%v", tc.raw)
			continue
		}
		assert.Equal(t, tc.expected, out["rating"], "raw=%v", tc.raw)
	}
}

func TestSanitizeStrings(t *testing.T) {
	s := NewSanitizer(SanitizerOptions{
		PriceMin:        100,
		PriceMax:        600000,
		MaxFieldLengths: map[string]int{"title": 20},
	})

	out := s.Sanitize(map[string]any{
		"title":       "  <b>Wireless</b>\n\n Mouse &amp; Pad extra words beyond the cap ",
		"description": "Plain <script>alert(1)</script> text",
		"brand":       "",
	})

	title := out["title"].(string)
	assert.NotContains(t, title, "<")
	assert.LessOrEqual(t, len([]rune(title)), 20)
	assert.NotContains(t, out["description"], "<script>")
	assert.NotContains(t, out, "brand")
}

func TestSanitizeReviewCount(t *testing.T) {
	s := testSanitizer()

	out := s.Sanitize(map[string]any{"review_count": "2,315 ratings"})
	assert.Equal(t, 2315, out["review_count"])

	out = s.Sanitize(map[string]any{"review_count": 42})
	assert.Equal(t, 42, out["review_count"])

	out = s.Sanitize(map[string]any{"review_count": "none"})
	assert.NotContains(t, out, "review_count")
}

func TestSanitizeSourceURL(t *testing.T) {
	s := testSanitizer()

	out := s.Sanitize(map[string]any{"source_url": "shop.example.com/p/1"})
	assert.Equal(t, "https://shop.example.com/p/1", out["source_url"])

	out = s.Sanitize(map[string]any{"source_url": "https://shop.example.com/p/1"})
	assert.Equal(t, "https://shop.example.com/p/1", out["source_url"])

	out = s.Sanitize(map[string]any{"source_url": ":::not a url"})
	assert.NotContains(t, out, "source_url")
}

func TestSanitizeURLLists(t *testing.T) {
	s := testSanitizer()

	// Structured input with a duplicate and a scheme-relative URL
	out := s.Sanitize(map[string]any{
		"image_urls": []string{
			"https://cdn.example.com/a.jpg",
			"//cdn.example.com/b.jpg",
			"https://cdn.example.com/a.jpg",
		},
	})
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.jpg",
	}, out["image_urls"])

	// JSON text input
	out = s.Sanitize(map[string]any{
		"video_urls": `["https://cdn.example.com/v.mp4"]`,
	})
	assert.Equal(t, []string{"https://cdn.example.com/v.mp4"}, out["video_urls"])

	// Delimited text input
	out = s.Sanitize(map[string]any{
		"image_urls": "https://cdn.example.com/a.jpg, https://cdn.example.com/b.jpg",
	})
	assert.Len(t, out["image_urls"], 2)

	// Empty collapses to absent
	out = s.Sanitize(map[string]any{"image_urls": []string{"", "   "}})
	assert.NotContains(t, out, "image_urls")
}

func TestSanitizeAttributes(t *testing.T) {
	s := testSanitizer()

	out := s.Sanitize(map[string]any{
		"attributes": map[string]any{
			"Display":  "6.1 inch <b>OLED</b>",
			"Battery":  "",
			"<empty/>": "value",
		},
	})
	attrs := out["attributes"].(map[string]string)
	assert.Equal(t, "6.1 inch OLED", attrs["Display"])
	assert.NotContains(t, attrs, "Battery")

	out = s.Sanitize(map[string]any{
		"attributes": `{"RAM": "8 GB"}`,
	})
	attrs = out["attributes"].(map[string]string)
	assert.Equal(t, "8 GB", attrs["RAM"])

	out = s.Sanitize(map[string]any{"attributes": map[string]any{}})
	assert.NotContains(t, out, "attributes")
}

func TestSanitizeOutputNeverContainsEmptyValues(t *testing.T) {
	s := testSanitizer()

	out := s.Sanitize(map[string]any{
		"title":       "  ",
		"price":       "1",
		"rating":      "11",
		"image_urls":  []string{},
		"attributes":  map[string]any{},
		"description": nil,
	})
	assert.Empty(t, out)
}
