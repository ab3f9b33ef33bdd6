package scraper

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"priceowl/scrapeworker/logger"
	"priceowl/scrapeworker/services/repository"
)

var (
	markupRe     = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	unsafeRuneRe = regexp.MustCompile(`[^\p{L}\p{N}\s\-_.,()&/]`)
	priceRe      = regexp.MustCompile(`[^0-9.]`)
	decimalRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// SanitizerOptions bound the values the sanitizer accepts
type SanitizerOptions struct {
	PriceMin        float64
	PriceMax        float64
	MaxFieldLengths map[string]int
}

// Sanitizer normalizes raw extracted fields before persistence. Sanitize
// never fails a record; invalid values are dropped with a warning.
type Sanitizer struct {
	opts SanitizerOptions
	log  *logger.Logger
}

// NewSanitizer creates a sanitizer with the given bounds
func NewSanitizer(opts SanitizerOptions) *Sanitizer {
	if opts.PriceMax <= opts.PriceMin {
		opts.PriceMin, opts.PriceMax = 100, 600000
	}
	return &Sanitizer{
		opts: opts,
		log:  logger.ForComponent("sanitizer"),
	}
}

// Sanitize returns a clean field map. Every value in the output is
// meaningful; empty and invalid entries are removed, so callers must not
// assume any field is present.
func (s *Sanitizer) Sanitize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))

	for key, value := range raw {
		switch key {
		case repository.FieldPrice, repository.FieldSalePrice:
			if price, ok := s.sanitizePrice(key, value); ok {
				out[key] = price
			}
		case repository.FieldRating:
			if rating, ok := sanitizeRating(value); ok {
				out[key] = rating
			}
		case repository.FieldReviewCount:
			if count, ok := sanitizeCount(value); ok {
				out[key] = count
			}
		case repository.FieldSourceURL:
			if u, ok := sanitizeURL(stringValue(value)); ok {
				out[key] = u
			}
		case repository.FieldImageURLs, repository.FieldVideoURLs:
			if urls := s.sanitizeURLList(value); len(urls) > 0 {
				out[key] = urls
			}
		case repository.FieldAttributes:
			if attrs := s.sanitizeAttributes(value); len(attrs) > 0 {
				out[key] = attrs
			}
		default:
			if str := s.sanitizeString(key, stringValue(value)); str != "" {
				out[key] = str
			}
		}
	}

	s.repairSalePrice(out)
	return out
}

// repairSalePrice drops a sale price that exceeds the regular price
func (s *Sanitizer) repairSalePrice(fields map[string]any) {
	sale, saleOK := fields[repository.FieldSalePrice].(float64)
	price, priceOK := fields[repository.FieldPrice].(float64)
	if saleOK && priceOK && sale > price {
		s.log.Warn().Float64("price", price).Float64("sale_price", sale).
			Msg("Sale price above regular price, dropping")
		delete(fields, repository.FieldSalePrice)
	}
}

// sanitizeString strips markup and unsafe runes, collapses whitespace and
// truncates to the field's configured maximum length
func (s *Sanitizer) sanitizeString(field, value string) string {
	value = markupRe.ReplaceAllString(value, " ")
	value = unsafeRuneRe.ReplaceAllString(value, "")
	value = whitespaceRe.ReplaceAllString(value, " ")
	value = strings.TrimSpace(value)

	if max, ok := s.opts.MaxFieldLengths[field]; ok && max > 0 {
		runes := []rune(value)
		if len(runes) > max {
			value = strings.TrimSpace(string(runes[:max]))
		}
	}
	return value
}

// sanitizePrice strips currency symbols and separators and enforces the
// configured sanity range
func (s *Sanitizer) sanitizePrice(field string, value any) (float64, bool) {
	var price float64
	switch v := value.(type) {
	case float64:
		price = v
	case int:
		price = float64(v)
	case string:
		cleaned := priceRe.ReplaceAllString(v, "")
		if cleaned == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		price = parsed
	default:
		return 0, false
	}

	if price < s.opts.PriceMin || price > s.opts.PriceMax {
		s.log.Warn().Str("field", field).Float64("value", price).
			Float64("min", s.opts.PriceMin).Float64("max", s.opts.PriceMax).
			Msg("Price outside sanity range, dropping")
		return 0, false
	}
	return price, true
}

// sanitizeRating takes the first decimal number in the value and accepts
// it when it falls in [0, 5]
func sanitizeRating(value any) (float64, bool) {
	var text string
	switch v := value.(type) {
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		text = strconv.Itoa(v)
	case string:
		text = v
	default:
		return 0, false
	}
	match := decimalRe.FindString(text)
	if match == "" {
		return 0, false
	}
	rating, err := strconv.ParseFloat(match, 64)
	if err != nil || rating < 0 || rating > 5 {
		return 0, false
	}
	return rating, true
}

func sanitizeCount(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, v >= 0
	case float64:
		return int(v), v >= 0
	case string:
		match := digitsRe.FindString(strings.ReplaceAll(v, ",", ""))
		if match == "" {
			return 0, false
		}
		count, err := strconv.Atoi(match)
		return count, err == nil
	}
	return 0, false
}

// sanitizeURL defaults the scheme to https and requires a well-formed
// absolute URL
func sanitizeURL(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if strings.HasPrefix(value, "//") {
		value = "https:" + value
	} else if !strings.Contains(value, "://") {
		value = "https://" + value
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}

// sanitizeURLList accepts structured slices or delimited/JSON text and
// returns deduplicated absolute URLs in input order
func (s *Sanitizer) sanitizeURLList(value any) []string {
	var candidates []string
	switch v := value.(type) {
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			candidates = append(candidates, stringValue(item))
		}
	case string:
		candidates = parseStringList(v)
	default:
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		u, ok := sanitizeURL(candidate)
		if !ok || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func (s *Sanitizer) sanitizeAttributes(value any) map[string]string {
	var raw map[string]any
	switch v := value.(type) {
	case map[string]string:
		raw = make(map[string]any, len(v))
		for k, val := range v {
			raw[k] = val
		}
	case map[string]any:
		raw = v
	case string:
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return nil
		}
	default:
		return nil
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := s.sanitizeString("", k)
		val := s.sanitizeString("", stringValue(v))
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

// parseStringList splits JSON array text or delimiter-separated text
func parseStringList(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "[") {
		var items []string
		if err := json.Unmarshal([]byte(text), &items); err == nil {
			return items
		}
	}
	sep := ","
	for _, candidate := range []string{"\n", "|", ";"} {
		if strings.Contains(text, candidate) {
			sep = candidate
			break
		}
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	}
	return ""
}
