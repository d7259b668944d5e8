package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/bill-tracker/internal/settings"
)

const systemPrompt = "You are an expert at reading Indonesian bills, receipts and bank transfer proofs. You read every number carefully and follow the requested output format exactly."

// Ollama implements Generator using a local Ollama server
type Ollama struct {
	baseURL  string
	model    string
	settings settings.Provider
	client   *http.Client
}

// NewOllama creates a new Ollama generator.
// Vision models that read small print well: llava:1.6, qwen2-vl:7b, llama3.2-vision.
func NewOllama(baseURL, modelName string, prov settings.Provider) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		model:    modelName,
		settings: prov,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow; callers bound requests with ctx
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate implements Generator
func (o *Ollama) Generate(ctx context.Context, image []byte, contentType, prompt, contextText string) (string, error) {
	user := ollamaMessage{Role: "user", Content: prompt}
	if strings.TrimSpace(contextText) != "" {
		user.Content = prompt + "\n\n" + contextText
	}
	if len(image) > 0 {
		finalImageData, _, _, err := prepareImageData(image, contentType)
		if err != nil {
			return "", err
		}
		user.Images = []string{base64.StdEncoding.EncodeToString(finalImageData)}
	}

	reqBody := ollamaChatRequest{
		Model:  settings.String(o.settings, settings.OllamaModel, o.model),
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			user,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text := cleanResponse(chatResp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return text, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
