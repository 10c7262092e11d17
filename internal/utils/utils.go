package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 10

	result := make([]byte, length)
	for i := range result {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[num.Int64()]
	}

	return fmt.Sprintf("%s-%s", prefix, string(result))
}

// ValidatePurchaseID validates the purchase ID format
func ValidatePurchaseID(purchaseID string) bool {
	return strings.HasPrefix(purchaseID, "pur-")
}

// ValidateUserID validates the user ID format
func ValidateUserID(userID string) bool {
	return strings.HasPrefix(userID, "usr-")
}

// ValidateProductID checks a store product identifier: reverse-DNS style
// segments, e.g. com.example.app.premium.
func ValidateProductID(productID string) bool {
	if productID == "" || strings.Contains(productID, " ") {
		return false
	}
	for _, segment := range strings.Split(productID, ".") {
		if segment == "" {
			return false
		}
	}
	return true
}
