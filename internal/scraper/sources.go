package scraper

import (
	"os"
	"strings"
	"time"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/logger"
)

// sourceSpec is one built-in platform definition
type sourceSpec struct {
	id       string
	envKey   string
	defaults Source
	selector SelectorConfig
}

// Built-in platform definitions. Listing URLs are placeholders overridden
// per deployment through <ID>_LISTING_URLS.
var builtinSources = []sourceSpec{
	{
		id:     "amazon",
		envKey: "AMAZON_LISTING_URLS",
		defaults: Source{
			MaxPages:          20,
			PageParam:         "page",
			RetryFailedPages:  true,
			FallbackToBrowser: true,
		},
		selector: SelectorConfig{
			ItemLinkSelector:  "div.s-result-item h2 a",
			NaturalKeyPattern: `/dp/([A-Z0-9]{10})`,
			Fields: map[string]FieldSelector{
				"title":            {Selector: "#productTitle"},
				"price":            {Selector: "span.a-price span.a-offscreen"},
				"sale_price":       {Selector: "span.a-price.a-text-price span.a-offscreen"},
				"rating":           {Selector: "span.a-icon-alt"},
				"review_count":     {Selector: "#acrCustomerReviewText"},
				"brand":            {Selector: "#bylineInfo"},
				"description":      {Selector: "#productDescription"},
				"inventory_status": {Selector: "#availability span"},
				"image_urls":       {Selector: "#altImages img", Attr: "src", All: true},
			},
		},
	},
	{
		id:     "flipkart",
		envKey: "FLIPKART_LISTING_URLS",
		defaults: Source{
			MaxPages:            15,
			PageParam:           "page",
			UseBrowserRendering: true,
			PaginationType:      PaginationPageParam,
			HasNextSelector:     "a._9QVEpD span",
		},
		selector: SelectorConfig{
			ItemLinkSelector:  "a.CGtC98",
			NaturalKeyPattern: `/p/(itm[a-z0-9]+)`,
			Fields: map[string]FieldSelector{
				"title":        {Selector: "span.VU-ZEz"},
				"price":        {Selector: "div.Nx9bqj"},
				"sale_price":   {Selector: "div.yRaY8j"},
				"rating":       {Selector: "div.XQDdHH"},
				"review_count": {Selector: "span.Wphh3N"},
				"image_urls":   {Selector: "img.DByuf4", Attr: "src", All: true},
			},
		},
	},
}

// LoadSources builds the enabled sources. A source is enabled when its
// listing URL variable is set; SCRAPER_SOURCES narrows the set further.
func LoadSources(cfg *config.Config) []*Source {
	log := logger.ForComponent("sources")
	enabled := enabledIDs()

	var sources []*Source
	for _, spec := range builtinSources {
		if len(enabled) > 0 && !enabled[spec.id] {
			continue
		}
		urls := listFromEnv(spec.envKey)
		if len(urls) == 0 {
			continue
		}
		extractor, err := NewSelectorExtractor(spec.id, spec.selector)
		if err != nil {
			log.Error().Err(err).Str("source", spec.id).Msg("Skipping source with invalid selector config")
			continue
		}

		src := spec.defaults
		src.ID = spec.id
		src.ListingURLs = urls
		src.Extractor = extractor
		if src.InterPageDelay.Min <= 0 {
			src.InterPageDelay = config.DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}
		}
		sources = append(sources, &src)
		log.Info().Str("source", spec.id).Int("listing_urls", len(urls)).Msg("Source enabled")
	}
	return sources
}

func enabledIDs() map[string]bool {
	raw := strings.TrimSpace(os.Getenv("SCRAPER_SOURCES"))
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

func listFromEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
