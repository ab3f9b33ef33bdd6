package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSplitPart(t *testing.T) {
	part, err := GetSplitPart("https://shop.example.com/p/ABC123", "/", 4)
	assert.NoError(t, err)
	assert.Equal(t, "ABC123", part)

	_, err = GetSplitPart("a/b", "/", 5)
	assert.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	testCases := []struct {
		base     string
		href     string
		expected string
	}{
		{"https://shop.example.com", "/p/1", "https://shop.example.com/p/1"},
		{"https://shop.example.com/", "p/1", "https://shop.example.com/p/1"},
		{"https://shop.example.com", "https://cdn.example.com/img.jpg", "https://cdn.example.com/img.jpg"},
		{"https://shop.example.com", "//cdn.example.com/img.jpg", "https://cdn.example.com/img.jpg"},
		{"https://shop.example.com/category/phones", "/p/1", "https://shop.example.com/p/1"},
		{"https://shop.example.com", "", ""},
		{"", "/p/1", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, ResolveURL(tc.base, tc.href), "base=%s href=%s", tc.base, tc.href)
	}
}
