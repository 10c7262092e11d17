package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/appfuel/storebridge/internal/models"
)

// EntitlementRepository maintains the entitlement read model in PostgreSQL.
// Rows are keyed by (user_id, entitlement); a revocation flips Active rather
// than deleting history.
type EntitlementRepository struct {
	db *sql.DB
}

func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) Grant(ctx context.Context, view *models.EntitlementView) error {
	query := `
		INSERT INTO entitlements (user_id, entitlement, product_id, purchase_id, active, granted_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (user_id, entitlement) DO UPDATE
		SET product_id = EXCLUDED.product_id,
			purchase_id = EXCLUDED.purchase_id,
			active = TRUE,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		view.UserID, view.Entitlement, view.ProductID, view.PurchaseID, view.GrantedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to grant entitlement: %w", err)
	}
	return nil
}

func (r *EntitlementRepository) Revoke(ctx context.Context, userID, entitlement string) error {
	query := `
		UPDATE entitlements SET active = FALSE, updated_at = $3
		WHERE user_id = $1 AND entitlement = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, entitlement, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke entitlement: %w", err)
	}
	return nil
}

// ListActiveByUserID returns the user's active entitlements.
func (r *EntitlementRepository) ListActiveByUserID(ctx context.Context, userID string) ([]models.EntitlementView, error) {
	query := `
		SELECT user_id, entitlement, product_id, purchase_id, active, granted_at, updated_at
		FROM entitlements
		WHERE user_id = $1 AND active = TRUE
		ORDER BY granted_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var views []models.EntitlementView
	for rows.Next() {
		var view models.EntitlementView
		if err := rows.Scan(
			&view.UserID, &view.Entitlement, &view.ProductID, &view.PurchaseID,
			&view.Active, &view.GrantedAt, &view.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	return views, nil
}
