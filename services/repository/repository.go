package repository

import (
	"context"
	"slices"
	"time"

	apperr "priceowl/scrapeworker/pkg/errors"
)

// Action describes what an upsert did to the stored record
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Canonical field keys produced by the sanitizer and consumed on upsert
const (
	FieldNaturalKey      = "natural_key"
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldPrice           = "price"
	FieldSalePrice       = "sale_price"
	FieldOffers          = "offers"
	FieldInventoryStatus = "inventory_status"
	FieldRating          = "rating"
	FieldReviewCount     = "review_count"
	FieldBrand           = "brand"
	FieldModel           = "model"
	FieldImageURLs       = "image_urls"
	FieldVideoURLs       = "video_urls"
	FieldAttributes      = "attributes"
	FieldSourceURL       = "source_url"
)

// Record is a normalized product snapshot. (source_id, natural_key) is the
// identity of a record across runs.
type Record struct {
	SourceID        string
	NaturalKey      string
	Title           string
	Description     string
	Price           *float64
	SalePrice       *float64
	Offers          string
	InventoryStatus string
	Rating          *float64
	ReviewCount     int
	Brand           string
	Model           string
	ImageURLs       []string
	VideoURLs       []string
	Attributes      map[string]string
	SourceURL       string
	IsActive        bool
	LastSeenAt      time.Time
}

// Repository persists scraped records with change detection
type Repository interface {
	// Upsert creates or updates the record identified by (sourceID,
	// naturalKey). When the record exists and no tracked field differs only
	// the last-seen timestamp is touched.
	Upsert(ctx context.Context, sourceID, naturalKey string, fields map[string]any) (Action, error)

	// FindByNaturalKey returns the stored record or nil when absent
	FindByNaturalKey(ctx context.Context, sourceID, naturalKey string) (*Record, error)

	// DeactivateStale marks active records of the source not seen since
	// cutoff as inactive and returns how many were deactivated
	DeactivateStale(ctx context.Context, sourceID string, cutoff time.Time) (int64, error)

	// CountActive returns the number of active records for the source
	CountActive(ctx context.Context, sourceID string) (int64, error)
}

// recordFromFields builds a Record from a sanitized field map. The sanitizer
// guarantees value types; anything else is ignored.
func recordFromFields(sourceID, naturalKey string, fields map[string]any, now time.Time) (*Record, error) {
	if sourceID == "" {
		return nil, apperr.NewValidation(sourceID, "source id is required")
	}
	if naturalKey == "" {
		return nil, apperr.NewValidation(sourceID, "natural key is required")
	}

	rec := &Record{
		SourceID:   sourceID,
		NaturalKey: naturalKey,
		IsActive:   true,
		LastSeenAt: now,
	}

	rec.Title = stringField(fields, FieldTitle)
	if rec.Title == "" {
		return nil, apperr.NewValidation(sourceID, "title is required for key "+naturalKey)
	}

	rec.Description = stringField(fields, FieldDescription)
	rec.Offers = stringField(fields, FieldOffers)
	rec.InventoryStatus = stringField(fields, FieldInventoryStatus)
	rec.Brand = stringField(fields, FieldBrand)
	rec.Model = stringField(fields, FieldModel)
	rec.SourceURL = stringField(fields, FieldSourceURL)

	rec.Price = floatField(fields, FieldPrice)
	rec.SalePrice = floatField(fields, FieldSalePrice)
	rec.Rating = floatField(fields, FieldRating)

	if v, ok := fields[FieldReviewCount]; ok {
		switch n := v.(type) {
		case int:
			rec.ReviewCount = n
		case float64:
			rec.ReviewCount = int(n)
		}
	}

	if v, ok := fields[FieldImageURLs].([]string); ok {
		rec.ImageURLs = v
	}
	if v, ok := fields[FieldVideoURLs].([]string); ok {
		rec.VideoURLs = v
	}
	if v, ok := fields[FieldAttributes].(map[string]string); ok {
		rec.Attributes = v
	}

	return rec, nil
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func floatField(fields map[string]any, key string) *float64 {
	switch v := fields[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

// recordChanged compares the tracked fields of two records. Array and map
// fields are compared by decoded value.
func recordChanged(existing, candidate *Record) bool {
	if existing.Title != candidate.Title ||
		existing.Description != candidate.Description ||
		existing.Offers != candidate.Offers ||
		existing.InventoryStatus != candidate.InventoryStatus ||
		existing.Brand != candidate.Brand ||
		existing.Model != candidate.Model ||
		existing.SourceURL != candidate.SourceURL ||
		existing.ReviewCount != candidate.ReviewCount {
		return true
	}
	if !floatEqual(existing.Price, candidate.Price) ||
		!floatEqual(existing.SalePrice, candidate.SalePrice) ||
		!floatEqual(existing.Rating, candidate.Rating) {
		return true
	}
	if !slices.Equal(existing.ImageURLs, candidate.ImageURLs) ||
		!slices.Equal(existing.VideoURLs, candidate.VideoURLs) {
		return true
	}
	if !mapsEqual(existing.Attributes, candidate.Attributes) {
		return true
	}
	return false
}

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	cp := *r
	cp.ImageURLs = slices.Clone(r.ImageURLs)
	cp.VideoURLs = slices.Clone(r.VideoURLs)
	if r.Attributes != nil {
		cp.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	if r.Price != nil {
		p := *r.Price
		cp.Price = &p
	}
	if r.SalePrice != nil {
		p := *r.SalePrice
		cp.SalePrice = &p
	}
	if r.Rating != nil {
		p := *r.Rating
		cp.Rating = &p
	}
	return &cp
}
