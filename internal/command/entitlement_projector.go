package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/appfuel/storebridge/internal/events"
	"github.com/appfuel/storebridge/internal/models"
)

// EntitlementStore is the persistence surface of the projector.
type EntitlementStore interface {
	Grant(ctx context.Context, view *models.EntitlementView) error
	Revoke(ctx context.Context, userID, entitlement string) error
}

// EntitlementProjector consumes purchase events and maintains the
// entitlement read model. Grants are upserts, so redelivered events
// converge on the same row.
type EntitlementProjector struct {
	store     EntitlementStore
	publisher EventPublisher
}

func NewEntitlementProjector(store EntitlementStore, publisher EventPublisher) *EntitlementProjector {
	return &EntitlementProjector{store: store, publisher: publisher}
}

// HandlePurchaseEvent reacts to purchase stream events.
func (p *EntitlementProjector) HandlePurchaseEvent(ctx context.Context, event events.Envelope) error {
	log.Printf("Received purchase event: %s", event.Type)
	switch event.Type {
	case events.PurchaseVerified:
		var data events.PurchaseVerifiedEvent
		if err := decodeEventData(event, &data); err != nil {
			return err
		}
		return p.grant(ctx, data.UserID, data.Entitlement, data.ProductID, data.PurchaseID)
	case events.PurchaseRestored:
		var data events.PurchaseRestoredEvent
		if err := decodeEventData(event, &data); err != nil {
			return err
		}
		return p.grant(ctx, data.UserID, data.Entitlement, data.ProductID, data.PurchaseID)
	case events.PurchaseRevoked:
		var data events.PurchaseRevokedEvent
		if err := decodeEventData(event, &data); err != nil {
			return err
		}
		return p.revoke(ctx, data.UserID, data.Entitlement, data.PurchaseID)
	default:
		return nil
	}
}

func (p *EntitlementProjector) grant(ctx context.Context, userID, entitlement, productID, purchaseID string) error {
	if entitlement == "" {
		log.Printf("Purchase %s carries no entitlement, nothing to grant", purchaseID)
		return nil
	}
	now := time.Now().UTC()
	if err := p.store.Grant(ctx, &models.EntitlementView{
		UserID:      userID,
		Entitlement: entitlement,
		ProductID:   productID,
		PurchaseID:  purchaseID,
		Active:      true,
		GrantedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return err
	}
	if err := p.publisher.Publish(ctx, events.EntitlementEventsStream, events.EntitlementGranted, events.EntitlementGrantedEvent{
		UserID:      userID,
		Entitlement: entitlement,
		ProductID:   productID,
		PurchaseID:  purchaseID,
	}); err != nil {
		log.Printf("Failed to publish entitlement.granted event: %v", err)
	}
	return nil
}

func (p *EntitlementProjector) revoke(ctx context.Context, userID, entitlement, purchaseID string) error {
	if entitlement == "" {
		log.Printf("Revocation of %s carries no entitlement, nothing to revoke", purchaseID)
		return nil
	}
	if err := p.store.Revoke(ctx, userID, entitlement); err != nil {
		return err
	}
	if err := p.publisher.Publish(ctx, events.EntitlementEventsStream, events.EntitlementRevoked, events.EntitlementRevokedEvent{
		UserID:      userID,
		Entitlement: entitlement,
		PurchaseID:  purchaseID,
	}); err != nil {
		log.Printf("Failed to publish entitlement.revoked event: %v", err)
	}
	return nil
}

func decodeEventData(event events.Envelope, out any) error {
	dataBytes, _ := json.Marshal(event.Data)
	if err := json.Unmarshal(dataBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", event.Type, err)
	}
	return nil
}
