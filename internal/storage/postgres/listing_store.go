// Package postgres upserts collated listings into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/collate"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

const defaultTable = "sold_listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ListingStore writes collated listing rows into Postgres, keyed by
// (day, link).
type ListingStore struct {
	pool   txBeginner
	table  string
	logger *zap.Logger
}

// NewListingStore connects a pool using cfg.
func NewListingStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newListingStore(pool, table, logger), nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool txBeginner, table string, logger *zap.Logger) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newListingStore(pool, table, logger), nil
}

func newListingStore(pool txBeginner, table string, logger *zap.Logger) *ListingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingStore{pool: pool, table: table, logger: logger}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertListings writes records for day in one transaction. Rows without a
// link have no key and are skipped. It returns the number of rows written.
func (s *ListingStore) UpsertListings(ctx context.Context, day, digest string, records []listing.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("listing store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	query := s.upsertQuery()
	written := 0
	for _, rec := range records {
		if rec.Link == "" {
			s.logger.Warn("skipping listing without link", zap.String("day", day), zap.String("address", rec.Address1))
			continue
		}
		args, err := upsertArgs(day, digest, rec)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("upsert listing %s: %w", rec.Link, err)
		}
		written++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit listings: %w", err)
	}
	return written, nil
}

// Name implements collate.Exporter.
func (s *ListingStore) Name() string { return "postgres" }

// Export upserts the collated rows.
func (s *ListingStore) Export(ctx context.Context, res collate.Result, records []listing.Record) error {
	n, err := s.UpsertListings(ctx, res.Day, res.Digest, records)
	if err != nil {
		return err
	}
	s.logger.Info("listings upserted", zap.String("day", res.Day), zap.Int("rows", n), zap.String("table", s.table))
	return nil
}

func (s *ListingStore) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	day,
	link,
	price,
	address1,
	address2,
	beds,
	baths,
	parking,
	sqm,
	home_type,
	image_links,
	sold_by,
	method_and_date_sold,
	method_sold,
	date_sold,
	source_digest
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (day, link) DO UPDATE SET
	price = EXCLUDED.price,
	address1 = EXCLUDED.address1,
	address2 = EXCLUDED.address2,
	beds = EXCLUDED.beds,
	baths = EXCLUDED.baths,
	parking = EXCLUDED.parking,
	sqm = EXCLUDED.sqm,
	home_type = EXCLUDED.home_type,
	image_links = EXCLUDED.image_links,
	sold_by = EXCLUDED.sold_by,
	method_and_date_sold = EXCLUDED.method_and_date_sold,
	method_sold = EXCLUDED.method_sold,
	date_sold = EXCLUDED.date_sold,
	source_digest = EXCLUDED.source_digest`, s.table)
}

func upsertArgs(day, digest string, rec listing.Record) ([]any, error) {
	images := rec.ImageLinks
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal image links: %w", err)
	}
	var dateSold *string
	if rec.DateSold != nil {
		d := rec.DateSold.Format(listing.DateLayout)
		dateSold = &d
	}
	return []any{
		day,
		rec.Link,
		rec.Price,
		rec.Address1,
		rec.Address2,
		rec.Beds,
		rec.Baths,
		rec.Parking,
		rec.Area,
		rec.HomeType,
		imagesJSON,
		rec.SoldBy,
		rec.MethodAndDateSold,
		rec.MethodSold,
		dateSold,
		digest,
	}, nil
}
