package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/appfuel/storebridge/internal/models"
)

// PurchaseWriteRepository handles all state-mutating operations for purchases.
// It operates exclusively against the PostgreSQL write store (source of truth).
type PurchaseWriteRepository struct {
	db *sql.DB
}

func NewPurchaseWriteRepository(db *sql.DB) *PurchaseWriteRepository {
	return &PurchaseWriteRepository{db: db}
}

func (r *PurchaseWriteRepository) Create(ctx context.Context, purchase *models.PurchaseRecord) error {
	query := `
		INSERT INTO purchases (id, user_id, product_id, transaction_id, original_transaction_id,
			app_account_token, status, environment, quantity, purchased_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		purchase.ID, purchase.UserID, purchase.ProductID, purchase.TransactionID,
		nullString(purchase.OriginalTransactionID), nullString(purchase.AppAccountToken),
		purchase.Status, purchase.Environment, purchase.Quantity,
		purchase.PurchasedAt, purchase.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// FindByTransactionID returns the purchase recorded for a store transaction,
// or nil when the transaction has not been processed yet.
func (r *PurchaseWriteRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseRecord, error) {
	query := `
		SELECT id, user_id, product_id, transaction_id, original_transaction_id,
			app_account_token, status, environment, quantity, purchased_at, created_at
		FROM purchases
		WHERE transaction_id = $1
	`
	record, err := scanPurchase(r.db.QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	return record, nil
}

// UpdateStatus flips the status of the purchase recorded for transactionID.
func (r *PurchaseWriteRepository) UpdateStatus(ctx context.Context, transactionID, status string) (*models.PurchaseRecord, error) {
	query := `
		UPDATE purchases SET status = $2
		WHERE transaction_id = $1
		RETURNING id, user_id, product_id, transaction_id, original_transaction_id,
			app_account_token, status, environment, quantity, purchased_at, created_at
	`
	record, err := scanPurchase(r.db.QueryRowContext(ctx, query, transactionID, status))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("purchase not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase status: %w", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	var originalID, appAccountToken sql.NullString
	err := row.Scan(
		&record.ID, &record.UserID, &record.ProductID, &record.TransactionID,
		&originalID, &appAccountToken, &record.Status, &record.Environment,
		&record.Quantity, &record.PurchasedAt, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.OriginalTransactionID = originalID.String
	record.AppAccountToken = appAccountToken.String
	return &record, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
