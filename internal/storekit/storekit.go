package storekit

import (
	"context"
	"time"
)

// TransactionState is the lifecycle state of a native payment transaction.
type TransactionState string

const (
	StatePurchasing TransactionState = "PURCHASING"
	StatePurchased  TransactionState = "PURCHASED"
	StateFailed     TransactionState = "FAILED"
	StateRestored   TransactionState = "RESTORED"
	StateDeferred   TransactionState = "DEFERRED"
)

// Payment describes what the application wants to buy.
type Payment struct {
	ProductID           string
	Quantity            int
	ApplicationUserName string
}

// PaymentTransaction is a native record representing one purchase attempt.
// It is owned by the store layer; the adapter only reads and classifies it.
type PaymentTransaction struct {
	ID         string
	OriginalID string
	State      TransactionState
	Payment    Payment
	// Err is set by the store layer when State is StateFailed.
	Err       error
	Timestamp time.Time
}

// Product is a catalog entry as reported by the store.
type Product struct {
	ID          string
	Title       string
	Description string
	// Price is in the minor unit of Currency.
	Price    int64
	Currency string
}

// ProductsResponse partitions a catalog query into found products and the
// identifiers the store did not recognise.
type ProductsResponse struct {
	Products    []Product
	NotFoundIDs []string
}

// PurchaseStatus classifies a PaymentTransaction for consumers.
type PurchaseStatus string

const (
	StatusPending   PurchaseStatus = "pending"
	StatusPurchased PurchaseStatus = "purchased"
	StatusError     PurchaseStatus = "error"
	StatusRestored  PurchaseStatus = "restored"
)

// PurchaseDetails is the consumer-facing projection of a transaction plus
// best-effort receipt data. Immutable once produced.
type PurchaseDetails struct {
	PurchaseID      string
	ProductID       string
	Receipt         string
	TransactionDate time.Time
	Status          PurchaseStatus
	Error           *PurchaseError
}

// TransactionObserver is the record of callbacks a consumer registers with a
// PaymentQueue. Nil entries are skipped by the queue.
type TransactionObserver struct {
	// UpdatedTransactions is invoked with each batch of transaction updates.
	UpdatedTransactions func(batch []PaymentTransaction)
	// RemovedTransactions is invoked after transactions are finished and
	// removed from the queue.
	RemovedTransactions func(batch []PaymentTransaction)
	// RestoreCompleted signals that a restore request has delivered every
	// restorable transaction.
	RestoreCompleted func()
	// RestoreFailed signals that a restore request could not complete.
	RestoreFailed func(err error)
	// UpdatedDownloads is invoked for hosted content download progress.
	UpdatedDownloads func(downloadIDs []string)
	// ShouldAddStorePayment is invoked when a purchase is initiated from
	// outside the application; returning true lets it continue.
	ShouldAddStorePayment func(payment Payment, product Product) bool
}

// PaymentQueue is the native store bridge the adapter sits on top of.
type PaymentQueue interface {
	// Register installs the observer. At most one observer is supported;
	// registering again replaces the previous one.
	Register(observer TransactionObserver)
	AddPayment(payment Payment) error
	// RestoreTransactions redelivers completed non-consumed purchases as
	// StateRestored transactions, then emits RestoreCompleted or RestoreFailed.
	RestoreTransactions(applicationUserName string) error
	// FinishTransaction acknowledges a transaction so the store stops
	// redelivering it.
	FinishTransaction(tx PaymentTransaction) error
	// ReceiptData returns the current base64 receipt blob.
	ReceiptData() (string, error)
	Products(ctx context.Context, ids []string) (ProductsResponse, error)
}
