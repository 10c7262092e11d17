package models

import "time"

// Purchase statuses stored on PurchaseRecord.
const (
	PurchaseStatusVerified = "verified"
	PurchaseStatusRestored = "restored"
	PurchaseStatusRevoked  = "revoked"
)

// PurchaseRecord is the write model for a verified in-app purchase.
type PurchaseRecord struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"-"`
	ProductID             string    `json:"productId"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId,omitempty"`
	AppAccountToken       string    `json:"appAccountToken,omitempty"`
	Status                string    `json:"status"`
	Environment           string    `json:"environment"`
	Quantity              int       `json:"quantity"`
	PurchasedAt           time.Time `json:"purchasedTimestamp"`
	CreatedAt             time.Time `json:"createdTimestamp"`
}

// Product is a sellable catalog entry.
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	Entitlement string    `json:"entitlement"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdTimestamp"`
}
