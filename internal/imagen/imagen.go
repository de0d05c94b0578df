package imagen

import (
	"context"
	"fmt"

	"github.com/lehigh-university-libraries/imagebatch/internal/providers"
	"google.golang.org/genai"
)

// DefaultModel is the Imagen model used when none is configured
const DefaultModel = "imagen-4.0-generate-001"

// Imagen generates images through the Gemini API's Imagen models
type Imagen struct{}

// New returns a new Imagen provider
func New() *Imagen {
	return &Imagen{}
}

func (i *Imagen) Name() string {
	return "imagen"
}

// GenerateImage requests a single image for the prompt
func (i *Imagen) GenerateImage(ctx context.Context, config providers.Config) (*providers.Image, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("imagen API key not set")
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	// A client is bound to one API key, and keys rotate per request.
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	resp, err := client.Models.GenerateImages(ctx, model, config.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("imagen generate: %w", err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("no image data received from Imagen")
	}
	generated := resp.GeneratedImages[0]
	if generated == nil || generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		return nil, fmt.Errorf("no image data received from Imagen")
	}

	mimeType := generated.Image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &providers.Image{Data: generated.Image.ImageBytes, MIMEType: mimeType}, nil
}
