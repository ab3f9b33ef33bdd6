package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"priceowl/scrapeworker/logger"
	apperr "priceowl/scrapeworker/pkg/errors"
)

// PostgresRepository stores records in a products table keyed by
// (source_id, natural_key)
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresRepository wraps an existing connection pool
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		log:  logger.ForComponent("repository"),
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
	source_id        TEXT NOT NULL,
	natural_key      TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	price            DOUBLE PRECISION,
	sale_price       DOUBLE PRECISION,
	offers           TEXT NOT NULL DEFAULT '',
	inventory_status TEXT NOT NULL DEFAULT '',
	rating           DOUBLE PRECISION,
	review_count     INTEGER NOT NULL DEFAULT 0,
	brand            TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	image_urls       JSONB NOT NULL DEFAULT '[]',
	video_urls       JSONB NOT NULL DEFAULT '[]',
	attributes       JSONB NOT NULL DEFAULT '{}',
	source_url       TEXT NOT NULL DEFAULT '',
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_products_stale
	ON products (source_id, last_seen_at) WHERE is_active;
`

// EnsureSchema creates the products table when missing
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return apperr.NewStorage("", "failed to create products schema", err)
	}
	return nil
}

// Upsert implements Repository. The read and write run inside a single
// transaction with the existing row locked.
func (p *PostgresRepository) Upsert(ctx context.Context, sourceID, naturalKey string, fields map[string]any) (Action, error) {
	candidate, err := recordFromFields(sourceID, naturalKey, fields, time.Now())
	if err != nil {
		return "", err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", apperr.NewStorage(sourceID, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanRecord(tx.QueryRow(ctx, selectSQL+" FOR UPDATE", sourceID, naturalKey))
	if err != nil && err != pgx.ErrNoRows {
		return "", apperr.NewStorage(sourceID, "failed to load record", err)
	}

	action := ActionCreated
	switch {
	case existing == nil:
		if err := insertRecord(ctx, tx, candidate); err != nil {
			return "", apperr.NewStorage(sourceID, "failed to insert record", err)
		}
	case recordChanged(existing, candidate):
		action = ActionUpdated
		if err := updateRecord(ctx, tx, candidate); err != nil {
			return "", apperr.NewStorage(sourceID, "failed to update record", err)
		}
	default:
		action = ActionUnchanged
		_, err := tx.Exec(ctx,
			`UPDATE products SET is_active = TRUE, last_seen_at = $3
			 WHERE source_id = $1 AND natural_key = $2`,
			sourceID, naturalKey, candidate.LastSeenAt)
		if err != nil {
			return "", apperr.NewStorage(sourceID, "failed to touch record", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", apperr.NewStorage(sourceID, "failed to commit upsert", err)
	}
	return action, nil
}

const selectSQL = `
SELECT source_id, natural_key, title, description, price, sale_price,
       offers, inventory_status, rating, review_count, brand, model,
       image_urls, video_urls, attributes, source_url, is_active, last_seen_at
FROM products WHERE source_id = $1 AND natural_key = $2`

// FindByNaturalKey implements Repository
func (p *PostgresRepository) FindByNaturalKey(ctx context.Context, sourceID, naturalKey string) (*Record, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, selectSQL, sourceID, naturalKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.NewStorage(sourceID, "failed to load record", err)
	}
	return rec, nil
}

// DeactivateStale implements Repository
func (p *PostgresRepository) DeactivateStale(ctx context.Context, sourceID string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE products SET is_active = FALSE
		 WHERE source_id = $1 AND is_active AND last_seen_at < $2`,
		sourceID, cutoff)
	if err != nil {
		return 0, apperr.NewStorage(sourceID, "failed to deactivate stale records", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive implements Repository
func (p *PostgresRepository) CountActive(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE source_id = $1 AND is_active`,
		sourceID).Scan(&count)
	if err != nil {
		return 0, apperr.NewStorage(sourceID, "failed to count active records", err)
	}
	return count, nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec *Record) error {
	images, videos, attrs, err := encodeJSONFields(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO products (
			source_id, natural_key, title, description, price, sale_price,
			offers, inventory_status, rating, review_count, brand, model,
			image_urls, video_urls, attributes, source_url, is_active, last_seen_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		rec.SourceID, rec.NaturalKey, rec.Title, rec.Description,
		rec.Price, rec.SalePrice, rec.Offers, rec.InventoryStatus,
		rec.Rating, rec.ReviewCount, rec.Brand, rec.Model,
		images, videos, attrs, rec.SourceURL, rec.IsActive, rec.LastSeenAt)
	return err
}

func updateRecord(ctx context.Context, tx pgx.Tx, rec *Record) error {
	images, videos, attrs, err := encodeJSONFields(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET
			title = $3, description = $4, price = $5, sale_price = $6,
			offers = $7, inventory_status = $8, rating = $9, review_count = $10,
			brand = $11, model = $12, image_urls = $13, video_urls = $14,
			attributes = $15, source_url = $16, is_active = TRUE, last_seen_at = $17
		WHERE source_id = $1 AND natural_key = $2`,
		rec.SourceID, rec.NaturalKey, rec.Title, rec.Description,
		rec.Price, rec.SalePrice, rec.Offers, rec.InventoryStatus,
		rec.Rating, rec.ReviewCount, rec.Brand, rec.Model,
		images, videos, attrs, rec.SourceURL, rec.LastSeenAt)
	return err
}

func encodeJSONFields(rec *Record) (images, videos, attrs []byte, err error) {
	if images, err = json.Marshal(orEmptySlice(rec.ImageURLs)); err != nil {
		return nil, nil, nil, err
	}
	if videos, err = json.Marshal(orEmptySlice(rec.VideoURLs)); err != nil {
		return nil, nil, nil, err
	}
	if rec.Attributes == nil {
		attrs = []byte("{}")
		return images, videos, attrs, nil
	}
	attrs, err = json.Marshal(rec.Attributes)
	return images, videos, attrs, err
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var images, videos, attrs []byte
	err := row.Scan(
		&rec.SourceID, &rec.NaturalKey, &rec.Title, &rec.Description,
		&rec.Price, &rec.SalePrice, &rec.Offers, &rec.InventoryStatus,
		&rec.Rating, &rec.ReviewCount, &rec.Brand, &rec.Model,
		&images, &videos, &attrs, &rec.SourceURL, &rec.IsActive, &rec.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &rec.ImageURLs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(videos, &rec.VideoURLs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
		return nil, err
	}
	if len(rec.ImageURLs) == 0 {
		rec.ImageURLs = nil
	}
	if len(rec.VideoURLs) == 0 {
		rec.VideoURLs = nil
	}
	if len(rec.Attributes) == 0 {
		rec.Attributes = nil
	}
	return &rec, nil
}
