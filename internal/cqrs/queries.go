package cqrs

// ---------- Purchase queries ----------

// GetPurchaseQuery fetches a single purchase, subject to ownership check.
type GetPurchaseQuery struct {
	PurchaseID string
	UserID     string
}

// ListPurchasesQuery fetches all purchases belonging to a user.
type ListPurchasesQuery struct {
	UserID string
}

// ---------- Entitlement queries ----------

// ListEntitlementsQuery fetches the active entitlements of a user.
type ListEntitlementsQuery struct {
	UserID string
}

// ---------- Product queries ----------

// ListProductsQuery fetches catalog entries. With IDs set, the result also
// reports which identifiers matched no active product.
type ListProductsQuery struct {
	IDs []string
}
