package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appfuel/storebridge/internal/appstore"
	"github.com/appfuel/storebridge/internal/cqrs"
	"github.com/appfuel/storebridge/internal/middleware"
	"github.com/appfuel/storebridge/internal/models"
)

// NotificationDecoder unpacks signed server-to-server notification payloads.
type NotificationDecoder interface {
	DecodeNotification(signedPayload string) (appstore.Notification, error)
}

// PurchaseRevoker applies revocations triggered by store notifications.
type PurchaseRevoker interface {
	RevokePurchase(context.Context, cqrs.RevokePurchaseCommand) (*models.PurchaseRecord, error)
}

type NotificationHandler struct {
	decoder  NotificationDecoder
	commands PurchaseRevoker
}

type NotificationRequest struct {
	SignedPayload string `json:"signedPayload" validate:"required"`
}

func NewNotificationHandler(decoder NotificationDecoder, commands PurchaseRevoker) *NotificationHandler {
	return &NotificationHandler{decoder: decoder, commands: commands}
}

// HandleNotification processes an App Store server notification. Refunds and
// revocations revoke the matching purchase; every other type is acknowledged
// so the store does not retry it.
func (h *NotificationHandler) HandleNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	notification, err := h.decoder.DecodeNotification(req.SignedPayload)
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid notification payload")
		return
	}

	if !notification.IsRevocation() {
		log.Printf("Ignoring %s notification %s", notification.NotificationType, notification.UUID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	_, err = h.commands.RevokePurchase(c.Request.Context(), cqrs.RevokePurchaseCommand{
		TransactionID: notification.Transaction.TransactionID,
		Reason:        notification.NotificationType,
	})
	if err != nil {
		// A revocation for a transaction this service never recorded is
		// acknowledged, otherwise the store keeps redelivering it.
		if err.Error() == "purchase not found" {
			log.Printf("Revocation %s matches no recorded purchase (transaction %s)",
				notification.UUID, notification.Transaction.TransactionID)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to process notification")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
