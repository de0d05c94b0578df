package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/imagebatch/internal/gemini"
	"github.com/lehigh-university-libraries/imagebatch/internal/imagen"
	"github.com/lehigh-university-libraries/imagebatch/internal/openai"
	"github.com/lehigh-university-libraries/imagebatch/internal/providers"
	"github.com/lehigh-university-libraries/imagebatch/internal/queue"
)

// Local calls a provider in-process
type Local struct {
	provider providers.Provider
	model    string
}

// NewLocal resolves the provider by name. Empty name and model fall back to
// IMAGEBATCH_PROVIDER and the provider's model environment variable.
func NewLocal(provider, model string) (*Local, error) {
	if provider == "" {
		provider = os.Getenv("IMAGEBATCH_PROVIDER")
		if provider == "" {
			provider = "imagen"
		}
	}

	var p providers.Provider
	switch provider {
	case "imagen":
		p = imagen.New()
	case "gemini":
		p = gemini.New()
	case "openai":
		p = openai.New()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	if model == "" {
		model = DefaultModel(provider)
	}
	return NewLocalWithProvider(p, model), nil
}

// NewLocalWithProvider wraps an already constructed provider
func NewLocalWithProvider(p providers.Provider, model string) *Local {
	return &Local{provider: p, model: model}
}

// Provider returns the provider name
func (l *Local) Provider() string {
	return l.provider.Name()
}

// Model returns the configured model
func (l *Local) Model() string {
	return l.model
}

// DefaultModel returns the model for a provider, honoring per-provider env overrides
func DefaultModel(provider string) string {
	switch provider {
	case "imagen":
		return getEnv("IMAGEN_MODEL", imagen.DefaultModel)
	case "gemini":
		return getEnv("GEMINI_MODEL", gemini.DefaultModel)
	case "openai":
		return getEnv("OPENAI_MODEL", openai.DefaultModel)
	default:
		return ""
	}
}

// FallbackCredential returns the environment credential for a provider
func FallbackCredential(provider string) string {
	switch provider {
	case "openai":
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	default:
		if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			return key
		}
		return strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
}

// Generate validates the request, picks the effective credential and
// normalizes the provider result.
func (l *Local) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrPromptRequired
	}

	apiKey := strings.TrimSpace(req.Credential)
	if apiKey == "" {
		apiKey = FallbackCredential(l.provider.Name())
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	start := time.Now()
	img, err := l.provider.GenerateImage(ctx, providers.Config{
		Model:  l.model,
		Prompt: req.Prompt,
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Image generation failed", "provider", l.provider.Name(), "model", l.model, "err", err)
		msg := err.Error()
		if msg == "" {
			msg = fmt.Sprintf("Server error generating image using %s", l.provider.Name())
		}
		return nil, &Error{Status: http.StatusInternalServerError, Message: msg}
	}

	if img == nil || len(img.Data) == 0 {
		slog.Error("Unexpected provider response", "provider", l.provider.Name(), "model", l.model)
		return nil, &Error{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("No image data received from %s", l.provider.Name()),
		}
	}

	slog.Debug("Image generated", "provider", l.provider.Name(), "model", l.model, "bytes", len(img.Data), "elapsed", time.Since(start))

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	return &Response{
		ImageBase64: base64.StdEncoding.EncodeToString(img.Data),
		MIMEType:    mimeType,
		FileName:    queue.Slugify(req.Prompt) + ".png",
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
