package events

import "time"

// Event types
const (
	PurchaseVerified = "purchase.verified"
	PurchaseRestored = "purchase.restored"
	PurchaseRevoked  = "purchase.revoked"

	EntitlementGranted = "entitlement.granted"
	EntitlementRevoked = "entitlement.revoked"
)

// Stream names
const (
	PurchaseEventsStream    = "purchase.events"
	EntitlementEventsStream = "entitlement.events"
)

// Envelope is the wire shape shared by every event on the streams.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Purchase events
type PurchaseVerifiedEvent struct {
	PurchaseID    string `json:"purchaseId"`
	UserID        string `json:"userId"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	Entitlement   string `json:"entitlement"`
	Environment   string `json:"environment"`
}

type PurchaseRestoredEvent struct {
	PurchaseID    string `json:"purchaseId"`
	UserID        string `json:"userId"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	Entitlement   string `json:"entitlement"`
}

type PurchaseRevokedEvent struct {
	PurchaseID    string `json:"purchaseId"`
	UserID        string `json:"userId"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	Entitlement   string `json:"entitlement"`
	Reason        string `json:"reason,omitempty"`
}

// Entitlement events
type EntitlementGrantedEvent struct {
	UserID      string `json:"userId"`
	Entitlement string `json:"entitlement"`
	ProductID   string `json:"productId"`
	PurchaseID  string `json:"purchaseId"`
}

type EntitlementRevokedEvent struct {
	UserID      string `json:"userId"`
	Entitlement string `json:"entitlement"`
	PurchaseID  string `json:"purchaseId"`
}
