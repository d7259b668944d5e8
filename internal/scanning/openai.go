package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/zombor/bill-tracker/internal/settings"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI implements Generator against the OpenAI chat completions API or any
// compatible endpoint.
type OpenAI struct {
	apiKey   string
	baseURL  string
	model    string
	settings settings.Provider

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAI creates an OpenAI generator. baseURL is optional. The settings
// provider may override the API key and the model name on every call; a
// missing key is reported by Generate.
func NewOpenAI(apiKey, modelName, baseURL string, prov settings.Provider) (*OpenAI, error) {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	return &OpenAI{
		apiKey:   apiKey,
		baseURL:  baseURL,
		model:    modelName,
		settings: prov,
		clients:  make(map[string]*openai.Client),
	}, nil
}

func (o *OpenAI) client() (*openai.Client, error) {
	apiKey := settings.String(o.settings, settings.OpenAIAPIKey, o.apiKey)
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredentials)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[apiKey]; ok {
		return c, nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	c := openai.NewClientWithConfig(cfg)
	o.clients[apiKey] = c
	return c, nil
}

// Generate implements Generator
func (o *OpenAI) Generate(ctx context.Context, image []byte, contentType, prompt, contextText string) (string, error) {
	client, err := o.client()
	if err != nil {
		return "", err
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	if strings.TrimSpace(contextText) != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: contextText})
	}
	if len(image) > 0 {
		finalImageData, mimeType, _, err := prepareImageData(image, contentType)
		if err != nil {
			return "", err
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(finalImageData),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: settings.String(o.settings, settings.OpenAIModel, o.model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	text := cleanResponse(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return text, nil
}

// Close is a no-op; the OpenAI client holds no resources
func (o *OpenAI) Close() error {
	return nil
}
