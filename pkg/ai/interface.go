package ai

import (
	"context"
)

// ReceiptItem is one extracted line item.
type ReceiptItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity,omitempty"`
	Category string  `json:"category,omitempty"`
}

// ReceiptExtraction is the classifier's verdict for one message. IsReceipt
// false with a low confidence means "unsure"; the caller may retry with
// more text (e.g. an attachment) before giving up on the message.
type ReceiptExtraction struct {
	IsReceipt  bool          `json:"is_receipt"`
	Confidence float64       `json:"confidence"`
	Merchant   string        `json:"merchant,omitempty"`
	Date       string        `json:"date,omitempty"` // ISO 8601
	Total      float64       `json:"total,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Items      []ReceiptItem `json:"items,omitempty"`
}

// ExtractorService is the interface for AI receipt classification.
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
type ExtractorService interface {
	ClassifyReceipt(ctx context.Context, emailText string) (*ReceiptExtraction, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
