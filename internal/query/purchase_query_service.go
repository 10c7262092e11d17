package query

import (
	"context"
	"fmt"

	"github.com/appfuel/storebridge/internal/cqrs"
	"github.com/appfuel/storebridge/internal/models"
)

// PurchaseReader serves purchase views.
type PurchaseReader interface {
	GetByID(ctx context.Context, purchaseID string) (*models.PurchaseView, error)
	ListByUserID(ctx context.Context, userID string) ([]models.PurchaseView, error)
}

// EntitlementReader serves the entitlement read model.
type EntitlementReader interface {
	ListActiveByUserID(ctx context.Context, userID string) ([]models.EntitlementView, error)
}

// ProductReader serves catalog reads.
type ProductReader interface {
	ListActive(ctx context.Context) ([]models.Product, error)
	ListByIDs(ctx context.Context, ids []string) (models.ProductsView, error)
}

// PurchaseQueryService serves all reads. Ownership is always checked before a
// purchase view is returned.
type PurchaseQueryService struct {
	purchases    PurchaseReader
	entitlements EntitlementReader
	products     ProductReader
}

func NewPurchaseQueryService(purchases PurchaseReader, entitlements EntitlementReader, products ProductReader) *PurchaseQueryService {
	return &PurchaseQueryService{
		purchases:    purchases,
		entitlements: entitlements,
		products:     products,
	}
}

func (s *PurchaseQueryService) GetPurchase(ctx context.Context, q cqrs.GetPurchaseQuery) (*models.PurchaseView, error) {
	view, err := s.purchases.GetByID(ctx, q.PurchaseID)
	if err != nil {
		return nil, err
	}
	if view.UserID != q.UserID {
		return nil, fmt.Errorf("forbidden")
	}
	return view, nil
}

func (s *PurchaseQueryService) ListPurchases(ctx context.Context, q cqrs.ListPurchasesQuery) ([]models.PurchaseView, error) {
	return s.purchases.ListByUserID(ctx, q.UserID)
}

func (s *PurchaseQueryService) ListEntitlements(ctx context.Context, q cqrs.ListEntitlementsQuery) ([]models.EntitlementView, error) {
	return s.entitlements.ListActiveByUserID(ctx, q.UserID)
}

// ListProducts returns the whole active catalog, or, when the query names
// identifiers, the matching products plus the identifiers nothing matched.
func (s *PurchaseQueryService) ListProducts(ctx context.Context, q cqrs.ListProductsQuery) (models.ProductsView, error) {
	if len(q.IDs) == 0 {
		products, err := s.products.ListActive(ctx)
		if err != nil {
			return models.ProductsView{}, err
		}
		return models.ProductsView{Products: products}, nil
	}
	return s.products.ListByIDs(ctx, q.IDs)
}
