// Package settings holds operator-overridable configuration: API keys, model
// identifiers and prompt templates.
package settings

import "strings"

// Keys understood by the rest of the application.
const (
	GeminiAPIKey = "gemini_api_key"
	GeminiModel  = "gemini_model"
	OpenAIAPIKey = "openai_api_key"
	OpenAIModel  = "openai_model"
	OllamaModel  = "ollama_model"

	PromptTransfer = "prompt.transfer"
	PromptBill     = "prompt.bill"
	PromptFallback = "prompt.fallback"
	PromptBillText = "prompt.bill_text"
)

// Provider looks up a raw setting value.
type Provider interface {
	Lookup(key string) (string, bool)
}

// String returns the override stored under key, or def when the key is unset
// or blank. A nil provider always yields def.
func String(p Provider, key, def string) string {
	if p == nil {
		return def
	}
	v, ok := p.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Map is an in-memory Provider.
type Map map[string]string

// Lookup implements Provider
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Chain consults each provider in order and returns the first hit.
type Chain []Provider

// Lookup implements Provider
func (c Chain) Lookup(key string) (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if v, ok := p.Lookup(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// Keys lists every key the application reads, in display order.
var Keys = []string{
	GeminiAPIKey,
	GeminiModel,
	OpenAIAPIKey,
	OpenAIModel,
	OllamaModel,
	PromptTransfer,
	PromptBill,
	PromptFallback,
	PromptBillText,
}

// Known reports whether key is one of Keys
func Known(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Mask hides all but the last four characters of secret values.
func Mask(key, value string) string {
	if !strings.HasSuffix(key, "_api_key") {
		return value
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
