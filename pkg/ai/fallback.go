package ai

import (
	"context"
	"log"
)

// FallbackService tries a primary extractor and falls back to a secondary
// when the primary errors. Extraction is already failable per message, so
// the fallback only widens availability, never hides a real classification.
type FallbackService struct {
	primary   ExtractorService
	secondary ExtractorService
}

func NewFallbackService(primary, secondary ExtractorService) *FallbackService {
	return &FallbackService{primary: primary, secondary: secondary}
}

func (f *FallbackService) ClassifyReceipt(ctx context.Context, emailText string) (*ReceiptExtraction, error) {
	result, err := f.primary.ClassifyReceipt(ctx, emailText)
	if err == nil {
		return result, nil
	}

	if f.secondary == nil {
		return nil, err
	}

	log.Printf("[Extractor] primary provider failed, trying fallback: %v", err)
	return f.secondary.ClassifyReceipt(ctx, emailText)
}
