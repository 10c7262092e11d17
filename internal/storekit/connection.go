package storekit

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// PurchaseListener receives one PurchaseDetails per live transaction update.
type PurchaseListener func(details PurchaseDetails)

// PaymentDecision decides whether a purchase initiated outside the
// application (e.g. a store promotion) may continue.
type PaymentDecision func(payment Payment, product Product) bool

// Config carries the consumer callbacks for a Connection.
type Config struct {
	Listener PurchaseListener
	// ShouldAddStorePayment is optional; when nil, externally initiated
	// payments are declined.
	ShouldAddStorePayment PaymentDecision
}

// Connection adapts the push-style PaymentQueue observer callbacks to two
// consumer shapes: a blocking QueryPastPurchases call and the persistent
// purchase-update listener. Construct one per queue with NewConnection; there
// is no process-wide instance.
type Connection struct {
	queue    PaymentQueue
	listener PurchaseListener
	decide   PaymentDecision

	mu sync.Mutex
	// restore is non-nil exactly while a restore is in flight.
	restore *restoreFlight
}

type restoreFlight struct {
	transactions []PaymentTransaction
	done         chan restoreResult
}

type restoreResult struct {
	purchases []PurchaseDetails
	err       error
}

// NewConnection builds a Connection and registers its observer with queue.
func NewConnection(queue PaymentQueue, cfg Config) (*Connection, error) {
	if queue == nil {
		return nil, ErrNoQueue
	}
	if cfg.Listener == nil {
		return nil, ErrNoListener
	}
	c := &Connection{
		queue:    queue,
		listener: cfg.Listener,
		decide:   cfg.ShouldAddStorePayment,
	}
	queue.Register(TransactionObserver{
		UpdatedTransactions:   c.handleUpdatedTransactions,
		RemovedTransactions:   func([]PaymentTransaction) {},
		RestoreCompleted:      c.handleRestoreCompleted,
		RestoreFailed:         c.handleRestoreFailed,
		UpdatedDownloads:      func([]string) {},
		ShouldAddStorePayment: c.ShouldAddStorePayment,
	})
	return c, nil
}

// Buy submits a payment to the native queue. The outcome arrives later
// through the purchase listener.
func (c *Connection) Buy(payment Payment) error {
	if err := c.queue.AddPayment(payment); err != nil {
		return fmt.Errorf("add payment for %s: %w", payment.ProductID, err)
	}
	return nil
}

// Products queries the store catalog for ids and partitions the result into
// found products and unknown identifiers.
func (c *Connection) Products(ctx context.Context, ids []string) (ProductsResponse, error) {
	resp, err := c.queue.Products(ctx, ids)
	if err != nil {
		return ProductsResponse{}, wrapNative("products_query_failed", err)
	}
	return resp, nil
}

// QueryPastPurchases asks the native queue to redeliver completed purchases
// and blocks until the store signals the restore finished or failed. At most
// one restore may be in flight; a concurrent call fails immediately with
// ErrRestoreInProgress. Cancelling ctx abandons the wait and drops any late
// restore signal.
func (c *Connection) QueryPastPurchases(ctx context.Context, applicationUserName string) ([]PurchaseDetails, error) {
	flight := &restoreFlight{done: make(chan restoreResult, 1)}

	c.mu.Lock()
	if c.restore != nil {
		c.mu.Unlock()
		return nil, ErrRestoreInProgress
	}
	c.restore = flight
	c.mu.Unlock()

	if err := c.queue.RestoreTransactions(applicationUserName); err != nil {
		c.clearRestore(flight)
		return nil, wrapNative("restore_request_failed", err)
	}

	select {
	case <-ctx.Done():
		c.clearRestore(flight)
		return nil, ctx.Err()
	case res := <-flight.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.purchases, nil
	}
}

// ShouldAddStorePayment routes an externally initiated payment to the
// configured decision function.
func (c *Connection) ShouldAddStorePayment(payment Payment, product Product) bool {
	if c.decide == nil {
		return false
	}
	return c.decide(payment, product)
}

// handleUpdatedTransactions routes a native batch. While a restore is in
// flight only StateRestored entries are accumulated; resolution waits for the
// terminal restore signal. Outside a restore each transaction is delivered to
// the listener exactly once, and purchased transactions are finished with the
// queue so they are not redelivered.
func (c *Connection) handleUpdatedTransactions(batch []PaymentTransaction) {
	c.mu.Lock()
	if c.restore != nil {
		for _, tx := range batch {
			if tx.State == StateRestored {
				c.restore.transactions = append(c.restore.transactions, tx)
			}
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, tx := range batch {
		c.listener(c.purchaseDetails(tx))
		if tx.State == StatePurchased {
			if err := c.queue.FinishTransaction(tx); err != nil {
				log.Printf("storekit: finish transaction %s: %v", tx.ID, err)
			}
		}
	}
}

func (c *Connection) handleRestoreCompleted() {
	flight := c.takeRestore()
	if flight == nil {
		return
	}
	purchases := make([]PurchaseDetails, 0, len(flight.transactions))
	for _, tx := range flight.transactions {
		purchases = append(purchases, c.purchaseDetails(tx))
	}
	flight.done <- restoreResult{purchases: purchases}
}

func (c *Connection) handleRestoreFailed(err error) {
	flight := c.takeRestore()
	if flight == nil {
		return
	}
	flight.done <- restoreResult{err: wrapNative("restore_failed", err)}
}

func (c *Connection) takeRestore() *restoreFlight {
	c.mu.Lock()
	defer c.mu.Unlock()
	flight := c.restore
	c.restore = nil
	return flight
}

// clearRestore resets the in-flight state only if it still belongs to flight,
// so an abandoned wait cannot clobber a later restore.
func (c *Connection) clearRestore(flight *restoreFlight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore == flight {
		c.restore = nil
	}
}

// purchaseDetails projects a native transaction for consumers. Receipt
// retrieval is best effort: on failure the receipt is empty, never fatal.
func (c *Connection) purchaseDetails(tx PaymentTransaction) PurchaseDetails {
	receipt, err := c.queue.ReceiptData()
	if err != nil {
		receipt = ""
	}
	details := PurchaseDetails{
		PurchaseID:      tx.ID,
		ProductID:       tx.Payment.ProductID,
		Receipt:         receipt,
		TransactionDate: tx.Timestamp,
		Status:          statusFor(tx.State),
	}
	if tx.State == StateFailed {
		cause := tx.Err
		if cause == nil {
			cause = fmt.Errorf("transaction %s failed", tx.ID)
		}
		details.Error = wrapNative("purchase_failed", cause)
	}
	return details
}

func statusFor(state TransactionState) PurchaseStatus {
	switch state {
	case StatePurchased:
		return StatusPurchased
	case StateFailed:
		return StatusError
	case StateRestored:
		return StatusRestored
	default:
		// Purchasing and deferred transactions are still pending.
		return StatusPending
	}
}
