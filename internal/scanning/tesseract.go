package scanning

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements OCR with a local tesseract installation.
type Tesseract struct {
	languages []string
	minHeight int
}

// NewTesseract creates a Tesseract OCR. Languages default to Indonesian plus English.
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"ind", "eng"}
	}
	return &Tesseract{
		languages: languages,
		minHeight: 1200,
	}
}

// RecognizeText runs one OCR pass over a grayscale, upscaled copy of the image.
// A gosseract client is not safe for concurrent use, so each call owns one.
func (t *Tesseract) RecognizeText(ctx context.Context, image []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pngData, _, _, err := prepareImageData(image, contentType)
	if err != nil {
		return "", err
	}
	prepared, err := t.preprocess(pngData)
	if err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.recognize(prepared)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return strings.TrimSpace(r.text), nil
	}
}

// recognize owns its client for the whole run so a caller giving up early
// never closes a client tesseract is still using.
func (t *Tesseract) recognize(image []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}

// preprocess converts to grayscale and upscales short images, which helps
// tesseract with the small print on phone photos of receipts.
func (t *Tesseract) preprocess(pngData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decoding image for OCR: %w", err)
	}
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < t.minHeight {
		gray = imaging.Resize(gray, 0, t.minHeight, imaging.Lanczos)
	}
	gray = imaging.Sharpen(gray, 0.7)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}

// Close is a no-op; clients are per call
func (t *Tesseract) Close() error {
	return nil
}
