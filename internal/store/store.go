package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// GetProductsWithVariants loads products by id with their variants embedded.
// Variants keep their stored order (created_at, id).
func (s *Store) GetProductsWithVariants(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, store_id, name, price, image_url, is_published, is_archived
		FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	query, args, err = sqlx.In(`
		SELECT v.id, v.product_id, v.size_id, sz.name AS size_name,
		       v.color_id, c.name AS color_name, v.material_id, m.name AS material_name,
		       v.price, v.inventory, v.sku
		FROM product_variants v
		JOIN sizes sz ON sz.id = v.size_id
		JOIN colors c ON c.id = v.color_id
		LEFT JOIN materials m ON m.id = v.material_id
		WHERE v.product_id IN (?)
		ORDER BY v.product_id, v.created_at, v.id`, ids)
	if err != nil {
		return nil, err
	}

	var variants []models.Variant
	if err := s.db.SelectContext(ctx, &variants, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	byProduct := make(map[string][]models.Variant, len(products))
	for _, v := range variants {
		byProduct[v.ProductID] = append(byProduct[v.ProductID], v)
	}
	for i := range products {
		products[i].Variants = byProduct[products[i].ID]
	}

	return products, nil
}
