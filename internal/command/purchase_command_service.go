package command

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/appfuel/storebridge/internal/appstore"
	"github.com/appfuel/storebridge/internal/cqrs"
	"github.com/appfuel/storebridge/internal/events"
	"github.com/appfuel/storebridge/internal/models"
	"github.com/appfuel/storebridge/internal/utils"
)

// TransactionVerifier checks a client-reported transaction with the store.
type TransactionVerifier interface {
	VerifyTransaction(ctx context.Context, transactionID string) (appstore.Transaction, error)
}

// PurchaseWriter is the write-side persistence used by the command service.
type PurchaseWriter interface {
	Create(ctx context.Context, purchase *models.PurchaseRecord) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseRecord, error)
	UpdateStatus(ctx context.Context, transactionID, status string) (*models.PurchaseRecord, error)
}

// PurchaseViewCacher keeps the purchase read model in step with writes.
type PurchaseViewCacher interface {
	CachePurchaseView(ctx context.Context, view *models.PurchaseView)
	DropPurchaseView(ctx context.Context, purchaseID string)
}

// ProductCatalog resolves store product identifiers to catalog entries.
type ProductCatalog interface {
	GetByID(ctx context.Context, productID string) (*models.Product, error)
}

// EventPublisher appends domain events to a stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// PurchaseCommandService records store purchases. Every client-reported
// transaction is re-verified with the store before anything is persisted;
// processing is idempotent on the store transaction ID.
type PurchaseCommandService struct {
	verifier  TransactionVerifier
	writeRepo PurchaseWriter
	readRepo  PurchaseViewCacher
	catalog   ProductCatalog
	publisher EventPublisher
}

func NewPurchaseCommandService(
	verifier TransactionVerifier,
	writeRepo PurchaseWriter,
	readRepo PurchaseViewCacher,
	catalog ProductCatalog,
	publisher EventPublisher,
) *PurchaseCommandService {
	return &PurchaseCommandService{
		verifier:  verifier,
		writeRepo: writeRepo,
		readRepo:  readRepo,
		catalog:   catalog,
		publisher: publisher,
	}
}

// VerifyPurchase validates one transaction with the store and records it.
// Redelivery of an already recorded transaction returns the existing record.
func (s *PurchaseCommandService) VerifyPurchase(ctx context.Context, cmd cqrs.VerifyPurchaseCommand) (*models.PurchaseRecord, error) {
	if cmd.UserID == "" || cmd.TransactionID == "" {
		return nil, fmt.Errorf("user id and transaction id are required")
	}

	existing, err := s.writeRepo.FindByTransactionID(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != cmd.UserID {
			return nil, fmt.Errorf("forbidden")
		}
		log.Printf("Transaction %s already recorded as %s, skipping", cmd.TransactionID, existing.ID)
		return existing, nil
	}

	txn, err := s.verifier.VerifyTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}
	if cmd.ProductID != "" && txn.ProductID != cmd.ProductID {
		return nil, fmt.Errorf("product mismatch")
	}

	product, err := s.catalog.GetByID(ctx, txn.ProductID)
	if err != nil {
		return nil, err
	}

	record := s.recordFor(cmd.UserID, txn, models.PurchaseStatusVerified)
	if err := s.writeRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	s.readRepo.CachePurchaseView(ctx, purchaseToView(record))

	if err := s.publisher.Publish(ctx, events.PurchaseEventsStream, events.PurchaseVerified, events.PurchaseVerifiedEvent{
		PurchaseID:    record.ID,
		UserID:        record.UserID,
		ProductID:     record.ProductID,
		TransactionID: record.TransactionID,
		Entitlement:   product.Entitlement,
		Environment:   record.Environment,
	}); err != nil {
		log.Printf("Failed to publish purchase.verified event: %v", err)
	}
	return record, nil
}

// RestorePurchases records a batch of restored transactions reported by a
// client restore. Entries that fail verification are skipped, not fatal; an
// already recorded entry contributes its existing record.
func (s *PurchaseCommandService) RestorePurchases(ctx context.Context, cmd cqrs.RestorePurchasesCommand) ([]*models.PurchaseRecord, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	records := make([]*models.PurchaseRecord, 0, len(cmd.Purchases))
	for _, restored := range cmd.Purchases {
		existing, err := s.writeRepo.FindByTransactionID(ctx, restored.TransactionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.UserID == cmd.UserID {
				records = append(records, existing)
			}
			continue
		}

		txn, err := s.verifier.VerifyTransaction(ctx, restored.TransactionID)
		if err != nil {
			log.Printf("Skipping restored transaction %s: %v", restored.TransactionID, err)
			continue
		}
		product, err := s.catalog.GetByID(ctx, txn.ProductID)
		if err != nil {
			log.Printf("Skipping restored transaction %s: %v", restored.TransactionID, err)
			continue
		}

		record := s.recordFor(cmd.UserID, txn, models.PurchaseStatusRestored)
		if err := s.writeRepo.Create(ctx, record); err != nil {
			return nil, err
		}
		s.readRepo.CachePurchaseView(ctx, purchaseToView(record))

		if err := s.publisher.Publish(ctx, events.PurchaseEventsStream, events.PurchaseRestored, events.PurchaseRestoredEvent{
			PurchaseID:    record.ID,
			UserID:        record.UserID,
			ProductID:     record.ProductID,
			TransactionID: record.TransactionID,
			Entitlement:   product.Entitlement,
		}); err != nil {
			log.Printf("Failed to publish purchase.restored event: %v", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// RevokePurchase marks a recorded purchase revoked, e.g. after a refund
// notification, and announces the revocation.
func (s *PurchaseCommandService) RevokePurchase(ctx context.Context, cmd cqrs.RevokePurchaseCommand) (*models.PurchaseRecord, error) {
	if cmd.TransactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	record, err := s.writeRepo.UpdateStatus(ctx, cmd.TransactionID, models.PurchaseStatusRevoked)
	if err != nil {
		return nil, err
	}
	s.readRepo.DropPurchaseView(ctx, record.ID)

	entitlement := ""
	if product, err := s.catalog.GetByID(ctx, record.ProductID); err == nil {
		entitlement = product.Entitlement
	}

	if err := s.publisher.Publish(ctx, events.PurchaseEventsStream, events.PurchaseRevoked, events.PurchaseRevokedEvent{
		PurchaseID:    record.ID,
		UserID:        record.UserID,
		ProductID:     record.ProductID,
		TransactionID: record.TransactionID,
		Entitlement:   entitlement,
		Reason:        cmd.Reason,
	}); err != nil {
		log.Printf("Failed to publish purchase.revoked event: %v", err)
	}
	return record, nil
}

func (s *PurchaseCommandService) recordFor(userID string, txn appstore.Transaction, status string) *models.PurchaseRecord {
	quantity := txn.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	return &models.PurchaseRecord{
		ID:                    utils.GenerateID("pur"),
		UserID:                userID,
		ProductID:             txn.ProductID,
		TransactionID:         txn.TransactionID,
		OriginalTransactionID: txn.OriginalTransactionID,
		AppAccountToken:       txn.AppAccountToken,
		Status:                status,
		Environment:           txn.Environment,
		Quantity:              quantity,
		PurchasedAt:           txn.PurchasedAt(),
		CreatedAt:             time.Now().UTC(),
	}
}

// purchaseToView converts the write model to a read view model.
func purchaseToView(p *models.PurchaseRecord) *models.PurchaseView {
	return &models.PurchaseView{
		ID:                    p.ID,
		UserID:                p.UserID,
		ProductID:             p.ProductID,
		TransactionID:         p.TransactionID,
		OriginalTransactionID: p.OriginalTransactionID,
		Status:                p.Status,
		Environment:           p.Environment,
		Quantity:              p.Quantity,
		PurchasedAt:           p.PurchasedAt,
		CreatedAt:             p.CreatedAt,
	}
}
