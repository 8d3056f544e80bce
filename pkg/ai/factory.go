package ai

import (
	"fmt"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	// Gemini config
	GeminiAPIKey string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"
}

// GeminiConstructor builds the Gemini-backed extractor. Injected by main to
// keep this package free of an import cycle with pkg/gemini.
type GeminiConstructor func(apiKey string) ExtractorService

// NewExtractorService creates an ExtractorService based on the config.
// This is the factory function - switch AI provider by changing config.Provider
func NewExtractorService(cfg Config, newGemini GeminiConstructor) (ExtractorService, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return newGemini(cfg.GeminiAPIKey), nil

	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	default:
		// Default to Gemini with Ollama fallback when the key is available,
		// otherwise Ollama alone.
		if cfg.GeminiAPIKey != "" {
			return NewFallbackService(
				newGemini(cfg.GeminiAPIKey),
				NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel),
			), nil
		}
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	}
}
