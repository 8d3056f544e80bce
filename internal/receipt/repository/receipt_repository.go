package repository

import (
	"errors"
	"time"

	receiptdomain "fintrack-backend/internal/receipt/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// receiptRepository implements ReceiptRepository interface
type receiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a new instance of receiptRepository
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{
		db: db,
	}
}

func (r *receiptRepository) Create(receipt *receiptdomain.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	now := time.Now()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	for i := range receipt.Items {
		if receipt.Items[i].ID == "" {
			receipt.Items[i].ID = uuid.New().String()
		}
		receipt.Items[i].ReceiptID = receipt.ID
	}
	return r.db.Create(receipt).Error
}

func (r *receiptRepository) ExistsBySource(providerID, sourceMessageID string) (bool, error) {
	var receipt receiptdomain.Receipt
	err := r.db.Where("provider_id = ? AND source_message_id = ?", providerID, sourceMessageID).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *receiptRepository) FindByUserID(userID string, limit, offset int) ([]*receiptdomain.Receipt, int64, error) {
	var receipts []*receiptdomain.Receipt
	var total int64

	query := r.db.Model(&receiptdomain.Receipt{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Preload("Items").
		Order("purchase_date DESC, created_at DESC").
		Limit(limit).Offset(offset).
		Find(&receipts).Error
	return receipts, total, err
}
