package scanning

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// Vision implements OCR using Google Cloud Vision document text detection.
type Vision struct {
	client *vision.ImageAnnotatorClient
}

// NewVision creates a Vision OCR. credentialsFile is optional; without it the
// GOOGLE_CREDENTIALS (inline JSON) and GOOGLE_APPLICATION_CREDENTIALS
// environment variables are consulted, then application default credentials.
func NewVision(ctx context.Context, credentialsFile string) (*Vision, error) {
	var opts []option.ClientOption
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(os.Getenv("GOOGLE_CREDENTIALS"))))
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsFile(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, fmt.Errorf("vision: %w: %v", ErrMissingCredentials, err)
		}
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &Vision{client: client}, nil
}

// RecognizeText implements OCR
func (v *Vision) RecognizeText(ctx context.Context, image []byte, contentType string) (string, error) {
	pngData, _, _, err := prepareImageData(image, contentType)
	if err != nil {
		return "", err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: pngData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: []string{"id", "en"}},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", fmt.Errorf("vision: %w", ErrEmptyResponse)
	}

	imageResp := resp.GetResponses()[0]
	if imageResp.GetError() != nil {
		return "", fmt.Errorf("vision API error: %s", imageResp.GetError().GetMessage())
	}
	return strings.TrimSpace(imageResp.GetFullTextAnnotation().GetText()), nil
}

// Close closes the Vision client
func (v *Vision) Close() error {
	return v.client.Close()
}
