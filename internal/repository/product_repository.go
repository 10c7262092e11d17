package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/appfuel/storebridge/internal/models"
	sharedredis "github.com/appfuel/storebridge/internal/redis"
)

const productViewKeyPrefix = "product:view:"

// ProductRepository serves the sellable catalog. Single-product reads go
// through the Redis view cache; list reads hit PostgreSQL directly.
type ProductRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.Product]
}

func NewProductRepository(db *sql.DB, redisClient *goredis.Client) *ProductRepository {
	return &ProductRepository{
		db:    db,
		cache: sharedredis.NewViewCache[models.Product](redisClient, 0),
	}
}

func (r *ProductRepository) GetByID(ctx context.Context, productID string) (*models.Product, error) {
	cacheKey := productViewKeyPrefix + productID
	if product, ok := r.cache.Get(ctx, cacheKey); ok {
		return product, nil
	}

	query := `
		SELECT id, title, description, price, currency, entitlement, active, created_at
		FROM products
		WHERE id = $1 AND active = TRUE
	`
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, productID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	r.cache.Set(ctx, cacheKey, product)
	return product, nil
}

// ListActive returns every active catalog entry.
func (r *ProductRepository) ListActive(ctx context.Context) ([]models.Product, error) {
	query := `
		SELECT id, title, description, price, currency, entitlement, active, created_at
		FROM products
		WHERE active = TRUE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

// ListByIDs partitions ids into found active products and unknown identifiers.
func (r *ProductRepository) ListByIDs(ctx context.Context, ids []string) (models.ProductsView, error) {
	query := `
		SELECT id, title, description, price, currency, entitlement, active, created_at
		FROM products
		WHERE active = TRUE AND id = ANY($1)
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return models.ProductsView{}, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return models.ProductsView{}, err
	}

	found := make(map[string]bool, len(products))
	for _, p := range products {
		found[p.ID] = true
	}
	view := models.ProductsView{Products: products}
	for _, id := range ids {
		if !found[id] {
			view.NotFoundIDs = append(view.NotFoundIDs, id)
		}
	}
	return view, nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var product models.Product
	var description sql.NullString
	err := row.Scan(
		&product.ID, &product.Title, &description, &product.Price,
		&product.Currency, &product.Entitlement, &product.Active, &product.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	product.Description = description.String
	return &product, nil
}
