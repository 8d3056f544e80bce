package usecase

import (
	"context"
	"strings"
	"time"

	receiptdomain "fintrack-backend/internal/receipt/domain"
	"fintrack-backend/internal/receipt/repository"
	"fintrack-backend/pkg/ai"
)

// IngestResult classifies the outcome of one ingestion attempt.
type IngestResult string

const (
	ResultInserted  IngestResult = "inserted"
	ResultDuplicate IngestResult = "duplicate"
	ResultRejected  IngestResult = "rejected"
)

// IngestService validates extracted candidates and inserts new receipts,
// skipping ones already recorded for the same provider message.
type IngestService interface {
	Ingest(ctx context.Context, candidate *ai.ReceiptExtraction, sourceMessageID, providerID, userID string) (IngestResult, error)
	ListReceipts(userID string, limit, offset int) ([]*receiptdomain.Receipt, int64, error)
}

// ingestService implements IngestService
type ingestService struct {
	receiptRepo repository.ReceiptRepository
}

// NewIngestService creates a new instance of ingestService
func NewIngestService(receiptRepo repository.ReceiptRepository) IngestService {
	return &ingestService{
		receiptRepo: receiptRepo,
	}
}

func (s *ingestService) Ingest(ctx context.Context, candidate *ai.ReceiptExtraction, sourceMessageID, providerID, userID string) (IngestResult, error) {
	// A candidate without a total and without any items carries nothing a
	// finance tracker can record.
	if candidate == nil || (candidate.Total <= 0 && len(candidate.Items) == 0) {
		return ResultRejected, nil
	}

	exists, err := s.receiptRepo.ExistsBySource(providerID, sourceMessageID)
	if err != nil {
		return "", err
	}
	if exists {
		return ResultDuplicate, nil
	}

	receipt := &receiptdomain.Receipt{
		UserID:          userID,
		ProviderID:      providerID,
		SourceMessageID: sourceMessageID,
		Merchant:        candidate.Merchant,
		PurchaseDate:    parseReceiptDate(candidate.Date),
		Total:           candidate.Total,
		Currency:        normalizeCurrency(candidate.Currency),
		Items:           make([]receiptdomain.ReceiptItem, 0, len(candidate.Items)),
	}
	for _, item := range candidate.Items {
		receipt.Items = append(receipt.Items, receiptdomain.ReceiptItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		})
	}

	if err := s.receiptRepo.Create(receipt); err != nil {
		// A unique index violation means a concurrent sync beat us to the
		// same message; treat it as the duplicate it is.
		if isDuplicateKeyError(err) {
			return ResultDuplicate, nil
		}
		return "", err
	}

	return ResultInserted, nil
}

func (s *ingestService) ListReceipts(userID string, limit, offset int) ([]*receiptdomain.Receipt, int64, error) {
	return s.receiptRepo.FindByUserID(userID, limit, offset)
}

func parseReceiptDate(iso string) time.Time {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, iso); err == nil {
			return t
		}
	}
	return time.Now()
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
