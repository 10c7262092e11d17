// Package memory provides an in-process PaymentQueue for development and
// tests. It behaves like a tiny store: payments move through the purchasing
// and purchased states, completed purchases are kept as restorable history,
// and a synthesized receipt covers everything bought so far.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appfuel/storebridge/internal/storekit"
)

// Queue is a thread-safe in-memory implementation of storekit.PaymentQueue.
// Observer callbacks are delivered synchronously on the calling goroutine.
type Queue struct {
	mu       sync.Mutex
	observer storekit.TransactionObserver
	catalog  map[string]storekit.Product
	// history holds completed non-consumed purchases, the set a restore
	// request redelivers.
	history []storekit.PaymentTransaction
	// pending holds delivered transactions that have not been finished yet.
	pending map[string]storekit.PaymentTransaction
	now     func() time.Time
}

func NewQueue(products ...storekit.Product) *Queue {
	catalog := make(map[string]storekit.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}
	return &Queue{
		catalog: catalog,
		pending: make(map[string]storekit.PaymentTransaction),
		now:     time.Now,
	}
}

func (q *Queue) Register(observer storekit.TransactionObserver) {
	q.mu.Lock()
	q.observer = observer
	q.mu.Unlock()
}

// AddPayment runs a payment through its lifecycle: a purchasing update first,
// then purchased for known products or failed for unknown ones.
func (q *Queue) AddPayment(payment storekit.Payment) error {
	if payment.ProductID == "" {
		return fmt.Errorf("payment has no product id")
	}
	if payment.Quantity <= 0 {
		payment.Quantity = 1
	}

	q.mu.Lock()
	observer := q.observer
	_, known := q.catalog[payment.ProductID]
	tx := storekit.PaymentTransaction{
		ID:        uuid.NewString(),
		State:     storekit.StatePurchasing,
		Payment:   payment,
		Timestamp: q.now().UTC(),
	}
	q.mu.Unlock()

	deliver(observer, tx)

	if !known {
		tx.State = storekit.StateFailed
		tx.Err = fmt.Errorf("product %s is not in the catalog", payment.ProductID)
		deliver(observer, tx)
		return nil
	}

	tx.State = storekit.StatePurchased
	q.mu.Lock()
	q.history = append(q.history, tx)
	q.pending[tx.ID] = tx
	q.mu.Unlock()

	deliver(observer, tx)
	return nil
}

// RestoreTransactions redelivers the purchase history as restored-state
// transactions and then signals completion.
func (q *Queue) RestoreTransactions(applicationUserName string) error {
	q.mu.Lock()
	observer := q.observer
	batch := make([]storekit.PaymentTransaction, 0, len(q.history))
	for _, past := range q.history {
		restored := storekit.PaymentTransaction{
			ID:         uuid.NewString(),
			OriginalID: past.ID,
			State:      storekit.StateRestored,
			Payment:    past.Payment,
			Timestamp:  q.now().UTC(),
		}
		restored.Payment.ApplicationUserName = applicationUserName
		batch = append(batch, restored)
	}
	q.mu.Unlock()

	if len(batch) > 0 && observer.UpdatedTransactions != nil {
		observer.UpdatedTransactions(batch)
	}
	if observer.RestoreCompleted != nil {
		observer.RestoreCompleted()
	}
	return nil
}

func (q *Queue) FinishTransaction(tx storekit.PaymentTransaction) error {
	q.mu.Lock()
	stored, ok := q.pending[tx.ID]
	if ok {
		delete(q.pending, tx.ID)
	}
	observer := q.observer
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("transaction %s is not pending", tx.ID)
	}
	if observer.RemovedTransactions != nil {
		observer.RemovedTransactions([]storekit.PaymentTransaction{stored})
	}
	return nil
}

type receiptEntry struct {
	TransactionID string    `json:"transactionId"`
	ProductID     string    `json:"productId"`
	Quantity      int       `json:"quantity"`
	PurchasedAt   time.Time `json:"purchasedAt"`
}

type receiptPayload struct {
	Environment string         `json:"environment"`
	IssuedAt    time.Time      `json:"issuedAt"`
	Entries     []receiptEntry `json:"entries"`
}

// ReceiptData synthesizes a base64 receipt covering the purchase history.
func (q *Queue) ReceiptData() (string, error) {
	q.mu.Lock()
	payload := receiptPayload{
		Environment: "Simulated",
		IssuedAt:    q.now().UTC(),
		Entries:     make([]receiptEntry, 0, len(q.history)),
	}
	for _, tx := range q.history {
		payload.Entries = append(payload.Entries, receiptEntry{
			TransactionID: tx.ID,
			ProductID:     tx.Payment.ProductID,
			Quantity:      tx.Payment.Quantity,
			PurchasedAt:   tx.Timestamp,
		})
	}
	q.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (q *Queue) Products(_ context.Context, ids []string) (storekit.ProductsResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var resp storekit.ProductsResponse
	for _, id := range ids {
		if product, ok := q.catalog[id]; ok {
			resp.Products = append(resp.Products, product)
		} else {
			resp.NotFoundIDs = append(resp.NotFoundIDs, id)
		}
	}
	return resp, nil
}

func deliver(observer storekit.TransactionObserver, tx storekit.PaymentTransaction) {
	if observer.UpdatedTransactions != nil {
		observer.UpdatedTransactions([]storekit.PaymentTransaction{tx})
	}
}
