package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildReceiptPrompt is shared by every LLM backend so classification
// behaves the same regardless of provider.
func BuildReceiptPrompt(emailText string) string {
	// Truncate to avoid token limits
	if len(emailText) > 12000 {
		emailText = emailText[:12000]
	}

	return fmt.Sprintf(`You are a purchase-receipt extraction engine for a personal finance tracker.
Analyze the email below and decide whether it is a purchase receipt or order confirmation.

Respond with ONLY a JSON object, no other text:
{
  "is_receipt": true/false,
  "confidence": 0.0-1.0,
  "merchant": "store or company name",
  "date": "YYYY-MM-DD",
  "total": 0.00,
  "currency": "USD",
  "items": [{"name": "item name", "price": 0.00, "quantity": 1, "category": "optional category guess"}]
}

Rules:
- Newsletters, promotions, shipping-only notices and account emails are NOT receipts.
- If a total is present but line items are not readable, return is_receipt true with an empty items array.
- Amounts are plain numbers without currency symbols.

EMAIL:
%s

JSON OUTPUT:`, emailText)
}

// ParseExtraction decodes an LLM reply into a ReceiptExtraction, tolerating
// markdown code fences and leading prose around the JSON object.
func ParseExtraction(reply string) (*ReceiptExtraction, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var out ReceiptExtraction
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("unable to parse model reply: %w", err)
	}
	return &out, nil
}
