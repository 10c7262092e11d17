package repository

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/appfuel/storebridge/internal/models"
	sharedredis "github.com/appfuel/storebridge/internal/redis"
)

const purchaseViewKeyPrefix = "purchase:view:"

// PurchaseReadRepository handles all read operations for purchases.
// It uses Redis as the primary read store, falling back to PostgreSQL on a miss.
type PurchaseReadRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.PurchaseView]
}

func NewPurchaseReadRepository(db *sql.DB, redisClient *goredis.Client) *PurchaseReadRepository {
	return &PurchaseReadRepository{
		db:    db,
		cache: sharedredis.NewViewCache[models.PurchaseView](redisClient, 0),
	}
}

// GetByID returns a PurchaseView by attempting Redis first, then PostgreSQL.
func (r *PurchaseReadRepository) GetByID(ctx context.Context, purchaseID string) (*models.PurchaseView, error) {
	cacheKey := purchaseViewKeyPrefix + purchaseID
	if view, ok := r.cache.Get(ctx, cacheKey); ok {
		return view, nil
	}

	// Fallback: PostgreSQL
	query := `
		SELECT id, user_id, product_id, transaction_id, original_transaction_id,
			status, environment, quantity, purchased_at, created_at
		FROM purchases
		WHERE id = $1
	`
	view, err := scanPurchaseView(r.db.QueryRowContext(ctx, query, purchaseID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("purchase not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	// Warm the cache
	r.CachePurchaseView(ctx, view)
	return view, nil
}

// ListByUserID returns all PurchaseViews for a user from PostgreSQL.
func (r *PurchaseReadRepository) ListByUserID(ctx context.Context, userID string) ([]models.PurchaseView, error) {
	query := `
		SELECT id, user_id, product_id, transaction_id, original_transaction_id,
			status, environment, quantity, purchased_at, created_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var views []models.PurchaseView
	for rows.Next() {
		view, err := scanPurchaseView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return views, nil
}

// CachePurchaseView stores a view in Redis for subsequent reads.
func (r *PurchaseReadRepository) CachePurchaseView(ctx context.Context, view *models.PurchaseView) {
	r.cache.Set(ctx, purchaseViewKeyPrefix+view.ID, view)
}

// DropPurchaseView evicts a view, e.g. after a revocation.
func (r *PurchaseReadRepository) DropPurchaseView(ctx context.Context, purchaseID string) {
	r.cache.Delete(ctx, purchaseViewKeyPrefix+purchaseID)
}

func scanPurchaseView(row rowScanner) (*models.PurchaseView, error) {
	var view models.PurchaseView
	var originalID sql.NullString
	err := row.Scan(
		&view.ID, &view.UserID, &view.ProductID, &view.TransactionID,
		&originalID, &view.Status, &view.Environment, &view.Quantity,
		&view.PurchasedAt, &view.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	view.OriginalTransactionID = originalID.String
	return &view, nil
}
