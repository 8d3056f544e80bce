package domain

import "time"

// Receipt is one ingested purchase, tagged with its originating provider and
// source message so repeat syncs recognize it.
type Receipt struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	UserID          string        `json:"user_id" gorm:"index;not null"`
	ProviderID      string        `json:"provider_id" gorm:"index;uniqueIndex:idx_provider_message;not null"`
	SourceMessageID string        `json:"source_message_id" gorm:"uniqueIndex:idx_provider_message;not null"`
	Merchant        string        `json:"merchant"`
	PurchaseDate    time.Time     `json:"purchase_date"`
	Total           float64       `json:"total"`
	Currency        string        `json:"currency"`
	Items           []ReceiptItem `json:"items" gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Receipt) TableName() string {
	return "receipts"
}

// ReceiptItem is one line item on a receipt.
type ReceiptItem struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	ReceiptID string  `json:"receipt_id" gorm:"index;not null"`
	Name      string  `json:"name" gorm:"not null"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity,omitempty"`
	Category  string  `json:"category,omitempty"`
}

// TableName specifies the table name for GORM
func (ReceiptItem) TableName() string {
	return "receipt_items"
}
