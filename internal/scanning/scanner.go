package scanning

import (
	"context"
	"errors"
)

// ErrMissingCredentials is returned when a collaborator is configured without
// the API key or credentials it needs.
var ErrMissingCredentials = errors.New("missing API credentials")

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response")

// Generator is the generative-AI boundary. image may be nil for text-only
// prompts; contextText, when non-empty, is sent after the prompt.
type Generator interface {
	Generate(ctx context.Context, image []byte, contentType, prompt, contextText string) (string, error)
	// Close releases the underlying client
	Close() error
}

// OCR turns an image into a plain text dump with no structure guaranteed.
type OCR interface {
	RecognizeText(ctx context.Context, image []byte, contentType string) (string, error)
	Close() error
}
