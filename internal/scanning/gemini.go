package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/bill-tracker/internal/settings"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini implements Generator using Google Gemini
type Gemini struct {
	apiKey   string
	model    string
	settings settings.Provider

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGemini creates a Gemini generator. The settings provider may override
// the API key and the model name on every call. A missing key is reported by
// Generate, so a key saved in settings later takes effect without a restart.
func NewGemini(apiKey, modelName string, prov settings.Provider) (*Gemini, error) {
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	g := &Gemini{
		apiKey:   apiKey,
		model:    modelName,
		settings: prov,
		clients:  make(map[string]*genai.Client),
	}
	if _, err := g.client(); err != nil && !errors.Is(err, ErrMissingCredentials) {
		return nil, err
	}
	return g, nil
}

// client returns the client for the current API key, creating it on first use.
// Clients for earlier keys stay open until Close since calls may still use them.
func (g *Gemini) client() (*genai.Client, error) {
	apiKey := settings.String(g.settings, settings.GeminiAPIKey, g.apiKey)
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingCredentials)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// Generate sends the prompt, the optional image and the optional context text
// to Gemini and returns the concatenated text parts of the first candidate.
func (g *Gemini) Generate(ctx context.Context, image []byte, contentType, prompt, contextText string) (string, error) {
	client, err := g.client()
	if err != nil {
		return "", err
	}

	var parts []genai.Part
	if len(image) > 0 {
		// Prepare image data (convert to PNG if needed)
		finalImageData, _, _, err := prepareImageData(image, contentType)
		if err != nil {
			return "", err
		}
		// genai.ImageData expects just the format suffix, and everything is PNG by now
		parts = append(parts, genai.ImageData("png", finalImageData))
	}
	parts = append(parts, genai.Text(prompt))
	if strings.TrimSpace(contextText) != "" {
		parts = append(parts, genai.Text(contextText))
	}

	model := client.GenerativeModel(settings.String(g.settings, settings.GeminiModel, g.model))
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return cleanResponse(responseText.String()), nil
}

// Close closes every Gemini client
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for key, c := range g.clients {
		errs = append(errs, c.Close())
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}
