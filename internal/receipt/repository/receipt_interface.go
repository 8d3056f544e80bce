package repository

import (
	receiptdomain "fintrack-backend/internal/receipt/domain"
)

// ReceiptRepository defines the interface for receipt persistence
type ReceiptRepository interface {
	// Create inserts a receipt with its items
	Create(receipt *receiptdomain.Receipt) error
	// ExistsBySource checks the dedup key (providerID, sourceMessageID)
	ExistsBySource(providerID, sourceMessageID string) (bool, error)
	// FindByUserID returns the user's receipts, newest purchase first
	FindByUserID(userID string, limit, offset int) ([]*receiptdomain.Receipt, int64, error)
}
