package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/appfuel/storebridge/internal/cqrs"
	"github.com/appfuel/storebridge/internal/middleware"
	"github.com/appfuel/storebridge/internal/models"
)

// PurchaseCommander defines the write-side operations used by PurchaseHandler.
type PurchaseCommander interface {
	VerifyPurchase(context.Context, cqrs.VerifyPurchaseCommand) (*models.PurchaseRecord, error)
	RestorePurchases(context.Context, cqrs.RestorePurchasesCommand) ([]*models.PurchaseRecord, error)
}

// PurchaseQuerier defines the read-side operations used by PurchaseHandler.
type PurchaseQuerier interface {
	GetPurchase(context.Context, cqrs.GetPurchaseQuery) (*models.PurchaseView, error)
	ListPurchases(context.Context, cqrs.ListPurchasesQuery) ([]models.PurchaseView, error)
	ListEntitlements(context.Context, cqrs.ListEntitlementsQuery) ([]models.EntitlementView, error)
}

type PurchaseHandler struct {
	commands PurchaseCommander
	queries  PurchaseQuerier
}

type VerifyPurchaseRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	ProductID     string `json:"productId" validate:"required"`
	Receipt       string `json:"receipt" validate:"omitempty,base64"`
}

type RestorePurchaseEntry struct {
	TransactionID         string `json:"transactionId" validate:"required"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId" validate:"required"`
	Receipt               string `json:"receipt" validate:"omitempty,base64"`
}

type RestorePurchasesRequest struct {
	Purchases []RestorePurchaseEntry `json:"purchases" validate:"required,min=1,dive"`
}

type RestorePurchasesResponse struct {
	Purchases []*models.PurchaseRecord `json:"purchases"`
}

type ListPurchasesResponse struct {
	Purchases []models.PurchaseView `json:"purchases"`
}

type ListEntitlementsResponse struct {
	Entitlements []models.EntitlementView `json:"entitlements"`
}

func NewPurchaseHandler(commands PurchaseCommander, queries PurchaseQuerier) *PurchaseHandler {
	return &PurchaseHandler{commands: commands, queries: queries}
}

func (h *PurchaseHandler) VerifyPurchase(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req VerifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	purchase, err := h.commands.VerifyPurchase(c.Request.Context(), cqrs.VerifyPurchaseCommand{
		UserID:        userID,
		TransactionID: req.TransactionID,
		ProductID:     req.ProductID,
		Receipt:       req.Receipt,
	})
	if err != nil {
		switch {
		case err.Error() == "forbidden":
			middleware.RespondWithError(c, http.StatusForbidden, "Transaction belongs to another user")
		case err.Error() == "product not found":
			middleware.RespondWithError(c, http.StatusNotFound, "Product not found")
		case err.Error() == "product mismatch":
			middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Transaction is for a different product")
		case strings.HasPrefix(err.Error(), "verification failed"):
			middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Transaction could not be verified")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to verify purchase")
		}
		return
	}

	c.JSON(http.StatusCreated, purchase)
}

func (h *PurchaseHandler) RestorePurchases(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req RestorePurchasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	entries := make([]cqrs.RestoredPurchase, len(req.Purchases))
	for i, p := range req.Purchases {
		entries[i] = cqrs.RestoredPurchase{
			TransactionID:         p.TransactionID,
			OriginalTransactionID: p.OriginalTransactionID,
			ProductID:             p.ProductID,
			Receipt:               p.Receipt,
		}
	}

	purchases, err := h.commands.RestorePurchases(c.Request.Context(), cqrs.RestorePurchasesCommand{
		UserID:    userID,
		Purchases: entries,
	})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to restore purchases")
		return
	}

	if purchases == nil {
		purchases = []*models.PurchaseRecord{}
	}
	c.JSON(http.StatusOK, RestorePurchasesResponse{Purchases: purchases})
}

func (h *PurchaseHandler) GetPurchase(c *gin.Context) {
	purchaseID := c.Param("purchaseId")
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetPurchase(c.Request.Context(), cqrs.GetPurchaseQuery{
		PurchaseID: purchaseID,
		UserID:     userID,
	})
	if err != nil {
		switch err.Error() {
		case "purchase not found":
			middleware.RespondWithError(c, http.StatusNotFound, "Purchase not found")
		case "forbidden":
			middleware.RespondWithError(c, http.StatusForbidden, "You can only view your own purchases")
		default:
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to get purchase")
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *PurchaseHandler) ListPurchases(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	views, err := h.queries.ListPurchases(c.Request.Context(), cqrs.ListPurchasesQuery{UserID: userID})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to list purchases")
		return
	}

	if views == nil {
		views = []models.PurchaseView{}
	}
	c.JSON(http.StatusOK, ListPurchasesResponse{Purchases: views})
}

func (h *PurchaseHandler) ListEntitlements(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	views, err := h.queries.ListEntitlements(c.Request.Context(), cqrs.ListEntitlementsQuery{UserID: userID})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to list entitlements")
		return
	}

	if views == nil {
		views = []models.EntitlementView{}
	}
	c.JSON(http.StatusOK, ListEntitlementsResponse{Entitlements: views})
}
