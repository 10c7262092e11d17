package appstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Notification types this service reacts to. Anything else is acknowledged
// and ignored.
const (
	NotificationRefund = "REFUND"
	NotificationRevoke = "REVOKE"
)

// Notification is the decoded payload of a server-to-server notification.
type Notification struct {
	NotificationType string
	Subtype          string
	UUID             string
	Transaction      Transaction
}

// IsRevocation reports whether the notification withdraws a purchase.
func (n Notification) IsRevocation() bool {
	return n.NotificationType == NotificationRefund || n.NotificationType == NotificationRevoke
}

type notificationPayload struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

// DecodeNotification unpacks a signedPayload from an App Store server
// notification, including the nested signed transaction when present.
func (c *Client) DecodeNotification(signedPayload string) (Notification, error) {
	parts := strings.Split(signedPayload, ".")
	if len(parts) != 3 {
		return Notification{}, fmt.Errorf("appstore: malformed notification payload")
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return Notification{}, fmt.Errorf("appstore: decode notification: %w", err)
	}

	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Notification{}, fmt.Errorf("appstore: unmarshal notification: %w", err)
	}
	if payload.NotificationType == "" {
		return Notification{}, fmt.Errorf("appstore: notification has no type")
	}
	if c.bundleID != "" && payload.Data.BundleID != "" && payload.Data.BundleID != c.bundleID {
		return Notification{}, fmt.Errorf("appstore: bundle id mismatch: %s", payload.Data.BundleID)
	}

	notification := Notification{
		NotificationType: payload.NotificationType,
		Subtype:          payload.Subtype,
		UUID:             payload.NotificationUUID,
	}
	if payload.Data.SignedTransactionInfo != "" {
		txn, err := decodeSignedPayload(payload.Data.SignedTransactionInfo)
		if err != nil {
			return Notification{}, fmt.Errorf("appstore: decode notification transaction: %w", err)
		}
		notification.Transaction = txn
	}
	return notification, nil
}
