package cqrs

type VerifyPurchaseCommand struct {
	UserID        string
	TransactionID string
	ProductID     string
	Receipt       string
}

type RestoredPurchase struct {
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	Receipt               string
}

type RestorePurchasesCommand struct {
	UserID    string
	Purchases []RestoredPurchase
}

type RevokePurchaseCommand struct {
	TransactionID string
	Reason        string
}
