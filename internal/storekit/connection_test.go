package storekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ---- fake payment queue ----

type fakeQueue struct {
	mu       sync.Mutex
	observer TransactionObserver

	receipt    string
	receiptErr error

	addPaymentErr error
	restoreErr    error
	productsFn    func(ctx context.Context, ids []string) (ProductsResponse, error)

	payments       []Payment
	finished       []PaymentTransaction
	restoreStarted chan string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		receipt:        "cmVjZWlwdA==",
		restoreStarted: make(chan string, 1),
	}
}

func (q *fakeQueue) Register(observer TransactionObserver) {
	q.observer = observer
}

func (q *fakeQueue) AddPayment(payment Payment) error {
	if q.addPaymentErr != nil {
		return q.addPaymentErr
	}
	q.mu.Lock()
	q.payments = append(q.payments, payment)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) RestoreTransactions(applicationUserName string) error {
	if q.restoreErr != nil {
		return q.restoreErr
	}
	q.restoreStarted <- applicationUserName
	return nil
}

func (q *fakeQueue) FinishTransaction(tx PaymentTransaction) error {
	q.mu.Lock()
	q.finished = append(q.finished, tx)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) ReceiptData() (string, error) {
	if q.receiptErr != nil {
		return "", q.receiptErr
	}
	return q.receipt, nil
}

func (q *fakeQueue) Products(ctx context.Context, ids []string) (ProductsResponse, error) {
	if q.productsFn != nil {
		return q.productsFn(ctx, ids)
	}
	return ProductsResponse{}, nil
}

func (q *fakeQueue) finishedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.finished)
}

// ---- helpers ----

type capturingListener struct {
	mu      sync.Mutex
	details []PurchaseDetails
}

func (l *capturingListener) listen(d PurchaseDetails) {
	l.mu.Lock()
	l.details = append(l.details, d)
	l.mu.Unlock()
}

func (l *capturingListener) all() []PurchaseDetails {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PurchaseDetails, len(l.details))
	copy(out, l.details)
	return out
}

func newTestConnection(t *testing.T, q *fakeQueue) (*Connection, *capturingListener) {
	t.Helper()
	listener := &capturingListener{}
	conn, err := NewConnection(q, Config{Listener: listener.listen})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	return conn, listener
}

func tx(id string, state TransactionState, productID string) PaymentTransaction {
	return PaymentTransaction{
		ID:        id,
		State:     state,
		Payment:   Payment{ProductID: productID, Quantity: 1},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type queryResult struct {
	purchases []PurchaseDetails
	err       error
}

func startRestore(t *testing.T, conn *Connection, q *fakeQueue, userName string) chan queryResult {
	t.Helper()
	results := make(chan queryResult, 1)
	go func() {
		purchases, err := conn.QueryPastPurchases(context.Background(), userName)
		results <- queryResult{purchases: purchases, err: err}
	}()
	select {
	case <-q.restoreStarted:
	case <-time.After(time.Second):
		t.Fatal("restore was never requested from the queue")
	}
	return results
}

func waitResult(t *testing.T, results chan queryResult) queryResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(time.Second):
		t.Fatal("QueryPastPurchases did not return")
		return queryResult{}
	}
}

// ---- restore flow ----

func TestQueryPastPurchasesWaitsForTerminalSignal(t *testing.T) {
	q := newFakeQueue()
	conn, _ := newTestConnection(t, q)
	results := startRestore(t, conn, q, "user-1")

	// Deliver several batches; none of them may resolve the call.
	q.observer.UpdatedTransactions([]PaymentTransaction{tx("t1", StateRestored, "premium")})
	q.observer.UpdatedTransactions([]PaymentTransaction{tx("t2", StateRestored, "coins")})

	select {
	case res := <-results:
		t.Fatalf("restore resolved before terminal signal: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	q.observer.RestoreCompleted()
	res := waitResult(t, results)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.purchases) != 2 {
		t.Fatalf("expected 2 restored purchases, got %d", len(res.purchases))
	}
	for _, p := range res.purchases {
		if p.Status != StatusRestored {
			t.Errorf("purchase %s: status = %s, want %s", p.PurchaseID, p.Status, StatusRestored)
		}
	}
}

func TestRestoreResultOnlyIncludesRestoredTransactions(t *testing.T) {
	q := newFakeQueue()
	conn, listener := newTestConnection(t, q)
	results := startRestore(t, conn, q, "user-1")

	q.observer.UpdatedTransactions([]PaymentTransaction{
		tx("t1", StateRestored, "premium"),
		tx("t2", StateRestored, "coins"),
		tx("t3", StatePurchasing, "coins"),
	})
	q.observer.RestoreCompleted()

	res := waitResult(t, results)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if len(res.purchases) != 2 {
		t.Fatalf("expected exactly the 2 restored transactions, got %d", len(res.purchases))
	}
	if got := res.purchases[0].PurchaseID; got != "t1" {
		t.Errorf("first restored purchase = %s, want t1", got)
	}
	if got := res.purchases[1].PurchaseID; got != "t2" {
		t.Errorf("second restored purchase = %s, want t2", got)
	}
	// Transactions arriving during a restore window never reach the listener.
	if got := listener.all(); len(got) != 0 {
		t.Errorf("listener invoked %d times during restore, want 0", len(got))
	}
}

func TestRestoreFailedRejectsWithPurchaseError(t *testing.T) {
	q := newFakeQueue()
	conn, _ := newTestConnection(t, q)
	results := startRestore(t, conn, q, "user-1")

	q.observer.RestoreFailed(errors.New("cloud service unavailable"))

	res := waitResult(t, results)
	if res.err == nil {
		t.Fatal("expected an error")
	}
	var pe *PurchaseError
	if !errors.As(res.err, &pe) {
		t.Fatalf("error %T is not a *PurchaseError", res.err)
	}
	if pe.Source != SourceAppStore || pe.Code != "restore_failed" {
		t.Errorf("unexpected error shape: %+v", pe)
	}
}

func TestConcurrentRestoreIsRejected(t *testing.T) {
	q := newFakeQueue()
	conn, _ := newTestConnection(t, q)
	results := startRestore(t, conn, q, "user-1")

	if _, err := conn.QueryPastPurchases(context.Background(), "user-2"); !errors.Is(err, ErrRestoreInProgress) {
		t.Fatalf("second restore: err = %v, want ErrRestoreInProgress", err)
	}

	q.observer.RestoreCompleted()
	if res := waitResult(t, results); res.err != nil {
		t.Fatalf("first restore failed: %v", res.err)
	}
}

func TestCancelledRestoreDropsLateSignal(t *testing.T) {
	q := newFakeQueue()
	conn, _ := newTestConnection(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan queryResult, 1)
	go func() {
		purchases, err := conn.QueryPastPurchases(ctx, "user-1")
		results <- queryResult{purchases: purchases, err: err}
	}()
	<-q.restoreStarted
	cancel()

	res := waitResult(t, results)
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.err)
	}

	// A late terminal signal must be a no-op, and the adapter must be idle
	// again for the next restore.
	q.observer.RestoreCompleted()
	results2 := startRestore(t, conn, q, "user-1")
	q.observer.UpdatedTransactions([]PaymentTransaction{tx("t9", StateRestored, "premium")})
	q.observer.RestoreCompleted()
	res2 := waitResult(t, results2)
	if res2.err != nil || len(res2.purchases) != 1 {
		t.Fatalf("follow-up restore: purchases = %d, err = %v", len(res2.purchases), res2.err)
	}
}

func TestRestoreRequestFailureClearsState(t *testing.T) {
	q := newFakeQueue()
	q.restoreErr = errors.New("queue offline")
	conn, _ := newTestConnection(t, q)

	if _, err := conn.QueryPastPurchases(context.Background(), "user-1"); err == nil {
		t.Fatal("expected an error")
	}

	// The failed request must not leave a restore in flight.
	q.restoreErr = nil
	results := startRestore(t, conn, q, "user-1")
	q.observer.RestoreCompleted()
	if res := waitResult(t, results); res.err != nil {
		t.Fatalf("follow-up restore failed: %v", res.err)
	}
}

// ---- live update flow ----

func TestPurchasedTransactionIsDeliveredAndFinishedOnce(t *testing.T) {
	q := newFakeQueue()
	_, listener := newTestConnection(t, q)

	q.observer.UpdatedTransactions([]PaymentTransaction{tx("t1", StatePurchased, "premium")})

	got := listener.all()
	if len(got) != 1 {
		t.Fatalf("listener invoked %d times, want 1", len(got))
	}
	d := got[0]
	if d.Status != StatusPurchased || d.ProductID != "premium" || d.Error != nil {
		t.Errorf("unexpected details: %+v", d)
	}
	if d.Receipt != q.receipt {
		t.Errorf("receipt = %q, want %q", d.Receipt, q.receipt)
	}
	if q.finishedCount() != 1 {
		t.Fatalf("finish transaction called %d times, want 1", q.finishedCount())
	}
	if q.finished[0].ID != "t1" {
		t.Errorf("finished transaction = %s, want t1", q.finished[0].ID)
	}
}

func TestFailedTransactionSurfacesErrorWithoutFinish(t *testing.T) {
	q := newFakeQueue()
	_, listener := newTestConnection(t, q)

	failed := tx("t1", StateFailed, "premium")
	failed.Err = errors.New("payment declined")
	q.observer.UpdatedTransactions([]PaymentTransaction{failed})

	got := listener.all()
	if len(got) != 1 {
		t.Fatalf("listener invoked %d times, want 1", len(got))
	}
	if got[0].Status != StatusError {
		t.Errorf("status = %s, want %s", got[0].Status, StatusError)
	}
	if got[0].Error == nil {
		t.Fatal("expected a non-nil PurchaseError")
	}
	if got[0].Error.Message != "payment declined" {
		t.Errorf("error message = %q", got[0].Error.Message)
	}
	if q.finishedCount() != 0 {
		t.Errorf("finish transaction called %d times for a failed transaction, want 0", q.finishedCount())
	}
}

func TestReceiptFailureDoesNotBlockDelivery(t *testing.T) {
	q := newFakeQueue()
	q.receiptErr = errors.New("receipt store unreadable")
	_, listener := newTestConnection(t, q)

	q.observer.UpdatedTransactions([]PaymentTransaction{tx("t1", StatePurchased, "premium")})

	got := listener.all()
	if len(got) != 1 {
		t.Fatalf("listener invoked %d times, want 1", len(got))
	}
	if got[0].Receipt != "" {
		t.Errorf("receipt = %q, want empty on retrieval failure", got[0].Receipt)
	}
	if got[0].Error != nil {
		t.Errorf("receipt failure must not mark the purchase failed: %+v", got[0].Error)
	}
}

func TestDeferredAndPurchasingMapToPending(t *testing.T) {
	q := newFakeQueue()
	_, listener := newTestConnection(t, q)

	q.observer.UpdatedTransactions([]PaymentTransaction{
		tx("t1", StatePurchasing, "premium"),
		tx("t2", StateDeferred, "premium"),
	})

	got := listener.all()
	if len(got) != 2 {
		t.Fatalf("listener invoked %d times, want 2", len(got))
	}
	for _, d := range got {
		if d.Status != StatusPending {
			t.Errorf("purchase %s: status = %s, want %s", d.PurchaseID, d.Status, StatusPending)
		}
	}
	if q.finishedCount() != 0 {
		t.Errorf("pending transactions must not be finished, got %d", q.finishedCount())
	}
}

// ---- remaining surfaces ----

func TestBuySubmitsPayment(t *testing.T) {
	q := newFakeQueue()
	conn, _ := newTestConnection(t, q)

	if err := conn.Buy(Payment{ProductID: "premium", Quantity: 1}); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if len(q.payments) != 1 || q.payments[0].ProductID != "premium" {
		t.Fatalf("unexpected payments: %+v", q.payments)
	}

	q.addPaymentErr = errors.New("store unavailable")
	if err := conn.Buy(Payment{ProductID: "premium"}); err == nil {
		t.Fatal("expected an error when the queue rejects the payment")
	}
}

func TestShouldAddStorePaymentDelegates(t *testing.T) {
	q := newFakeQueue()
	listener := &capturingListener{}

	// Without a decision function external payments are declined.
	conn, err := NewConnection(q, Config{Listener: listener.listen})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if conn.ShouldAddStorePayment(Payment{ProductID: "premium"}, Product{ID: "premium"}) {
		t.Error("nil decision function must decline external payments")
	}

	var seen Payment
	conn, err = NewConnection(q, Config{
		Listener: listener.listen,
		ShouldAddStorePayment: func(p Payment, _ Product) bool {
			seen = p
			return true
		},
	})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if !q.observer.ShouldAddStorePayment(Payment{ProductID: "premium"}, Product{ID: "premium"}) {
		t.Error("decision verdict was not propagated")
	}
	if seen.ProductID != "premium" {
		t.Errorf("decision function saw %+v", seen)
	}
}

func TestProductsPartitionsUnknownIDs(t *testing.T) {
	q := newFakeQueue()
	q.productsFn = func(_ context.Context, ids []string) (ProductsResponse, error) {
		return ProductsResponse{
			Products:    []Product{{ID: "premium", Price: 499, Currency: "USD"}},
			NotFoundIDs: []string{"ghost"},
		}, nil
	}
	conn, _ := newTestConnection(t, q)

	resp, err := conn.Products(context.Background(), []string{"premium", "ghost"})
	if err != nil {
		t.Fatalf("Products: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].ID != "premium" {
		t.Fatalf("unexpected products: %+v", resp.Products)
	}
	if len(resp.NotFoundIDs) != 1 || resp.NotFoundIDs[0] != "ghost" {
		t.Fatalf("unexpected not-found ids: %+v", resp.NotFoundIDs)
	}

	q.productsFn = func(context.Context, []string) (ProductsResponse, error) {
		return ProductsResponse{}, fmt.Errorf("catalog unreachable")
	}
	_, err = conn.Products(context.Background(), []string{"premium"})
	var pe *PurchaseError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a *PurchaseError", err)
	}
}

func TestNewConnectionValidatesDependencies(t *testing.T) {
	if _, err := NewConnection(nil, Config{Listener: func(PurchaseDetails) {}}); !errors.Is(err, ErrNoQueue) {
		t.Errorf("nil queue: err = %v, want ErrNoQueue", err)
	}
	if _, err := NewConnection(newFakeQueue(), Config{}); !errors.Is(err, ErrNoListener) {
		t.Errorf("nil listener: err = %v, want ErrNoListener", err)
	}
}
