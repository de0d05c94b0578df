package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/lehigh-university-libraries/imagebatch/internal/providers"
	"google.golang.org/api/option"
)

// DefaultModel is a Gemini model that answers with inline image parts
const DefaultModel = "gemini-2.5-flash-image"

// Gemini is a provider for Gemini native image output
type Gemini struct{}

// New returns a new Gemini provider
func New() *Gemini {
	return &Gemini{}
}

func (g *Gemini) Name() string {
	return "gemini"
}

// GenerateImage asks Gemini for an image and returns the first inline image part
func (g *Gemini) GenerateImage(ctx context.Context, config providers.Config) (*providers.Image, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not set")
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}
	defer client.Close()

	resp, err := client.GenerativeModel(model).GenerateContent(ctx, genai.Text(config.Prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("empty content returned from Gemini")
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Blob:
			if len(p.Data) > 0 && strings.HasPrefix(p.MIMEType, "image/") {
				return &providers.Image{Data: p.Data, MIMEType: p.MIMEType}, nil
			}
		case genai.Text:
			text = append(text, string(p))
		}
	}

	if len(text) > 0 {
		return nil, fmt.Errorf("gemini returned text instead of an image: %s", strings.Join(text, " "))
	}
	return nil, fmt.Errorf("no image data received from Gemini")
}
