package models

import "time"

// PurchaseView is the read-optimised projection of a purchase.
// UserID is populated for ownership checks but never serialised to the API response.
type PurchaseView struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"-"`
	ProductID             string    `json:"productId"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId,omitempty"`
	Status                string    `json:"status"`
	Environment           string    `json:"environment"`
	Quantity              int       `json:"quantity"`
	PurchasedAt           time.Time `json:"purchasedTimestamp"`
	CreatedAt             time.Time `json:"createdTimestamp"`
}

// EntitlementView is the read model maintained by the entitlement projector.
// One row per user and entitlement key; Active flips on revocation.
type EntitlementView struct {
	UserID      string    `json:"-"`
	Entitlement string    `json:"entitlement"`
	ProductID   string    `json:"productId"`
	PurchaseID  string    `json:"purchaseId"`
	Active      bool      `json:"active"`
	GrantedAt   time.Time `json:"grantedTimestamp"`
	UpdatedAt   time.Time `json:"updatedTimestamp"`
}

// ProductsView partitions a catalog lookup into found products and the
// identifiers no active product matches.
type ProductsView struct {
	Products    []Product `json:"products"`
	NotFoundIDs []string  `json:"notFoundIds,omitempty"`
}
