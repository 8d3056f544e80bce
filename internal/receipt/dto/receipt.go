package dto

import (
	receiptdomain "fintrack-backend/internal/receipt/domain"
)

type ReceiptsResponse struct {
	Receipts []*receiptdomain.Receipt `json:"receipts"`
	Total    int64                    `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}
