package storekit

import (
	"errors"
	"fmt"
)

// Error sources for PurchaseError.
const (
	SourceAppStore = "app_store"
)

var (
	ErrRestoreInProgress = errors.New("a restore is already in progress")
	ErrNoListener        = errors.New("purchase listener is required")
	ErrNoQueue           = errors.New("payment queue is required")
)

// PurchaseError summarises a native failure at the adapter boundary. Native
// error objects never cross into the consumer-facing API unwrapped.
type PurchaseError struct {
	Source  string
	Code    string
	Message string
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Source, e.Code, e.Message)
}

// wrapNative converts an arbitrary native error into a *PurchaseError,
// preserving an existing one as is.
func wrapNative(code string, err error) *PurchaseError {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe
	}
	return &PurchaseError{Source: SourceAppStore, Code: code, Message: err.Error()}
}
