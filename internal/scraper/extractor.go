package scraper

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"priceowl/scrapeworker/helpers"
	apperr "priceowl/scrapeworker/pkg/errors"
	"priceowl/scrapeworker/services/repository"
)

// FieldSelector maps one record field to a CSS selector. Attr reads an
// attribute instead of text; All collects every match into a list.
type FieldSelector struct {
	Selector string
	Attr     string
	All      bool
}

// SelectorConfig drives a SelectorExtractor
type SelectorConfig struct {
	// ItemLinkSelector matches the anchors on a listing page that point
	// at item pages
	ItemLinkSelector string

	// NaturalKeyPattern is a regexp with one capture group applied to the
	// item URL to derive the natural key
	NaturalKeyPattern string

	// Fields maps record field names to selectors on the item page
	Fields map[string]FieldSelector
}

// SelectorExtractor is the selector-driven Extractor most sources use.
// Sites with exotic markup supply their own Extractor instead.
type SelectorExtractor struct {
	sourceID string
	cfg      SelectorConfig
	keyRe    *regexp.Regexp
}

// NewSelectorExtractor validates the config and compiles the key pattern
func NewSelectorExtractor(sourceID string, cfg SelectorConfig) (*SelectorExtractor, error) {
	if cfg.ItemLinkSelector == "" {
		return nil, apperr.NewConfiguration("item link selector is required for "+sourceID, nil)
	}
	var keyRe *regexp.Regexp
	if cfg.NaturalKeyPattern != "" {
		var err error
		keyRe, err = regexp.Compile(cfg.NaturalKeyPattern)
		if err != nil {
			return nil, apperr.NewConfiguration("invalid natural key pattern for "+sourceID, err)
		}
	}
	return &SelectorExtractor{sourceID: sourceID, cfg: cfg, keyRe: keyRe}, nil
}

// ListItemURLs implements Extractor
func (e *SelectorExtractor) ListItemURLs(pageHTML []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		return nil, apperr.NewParsing(e.sourceID, "failed to parse listing page", err)
	}

	var urls []string
	seen := make(map[string]bool)
	doc.Find(e.cfg.ItemLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved := helpers.ResolveURL(pageURL, strings.TrimSpace(href))
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	})
	return urls, nil
}

// ExtractItem implements Extractor
func (e *SelectorExtractor) ExtractItem(pageHTML []byte, itemURL string) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		return nil, apperr.NewParsing(e.sourceID, "failed to parse item page", err)
	}

	fields := map[string]any{
		repository.FieldSourceURL: itemURL,
	}
	if e.keyRe != nil {
		if m := e.keyRe.FindStringSubmatch(itemURL); len(m) > 1 {
			fields[repository.FieldNaturalKey] = m[1]
		}
	}

	for name, fs := range e.cfg.Fields {
		if fs.All {
			var values []string
			doc.Find(fs.Selector).Each(func(_ int, sel *goquery.Selection) {
				if v := selectionValue(sel, fs.Attr, itemURL); v != "" {
					values = append(values, v)
				}
			})
			if len(values) > 0 {
				fields[name] = values
			}
			continue
		}
		if v := selectionValue(doc.Find(fs.Selector).First(), fs.Attr, itemURL); v != "" {
			fields[name] = v
		}
	}
	return fields, nil
}

func selectionValue(sel *goquery.Selection, attr, pageURL string) string {
	if sel.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := sel.Attr(attr)
		v = strings.TrimSpace(v)
		if v != "" && (attr == "href" || attr == "src" || attr == "data-src") {
			return helpers.ResolveURL(pageURL, v)
		}
		return v
	}
	return strings.TrimSpace(sel.Text())
}
