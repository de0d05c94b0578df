package providers

import (
	"context"
)

// Config represents a single image request to a provider
type Config struct {
	Model  string
	Prompt string
	APIKey string
}

// Image is the raw image returned by a provider
type Image struct {
	Data     []byte
	MIMEType string
}

// Provider defines the interface for a text-to-image provider
type Provider interface {
	Name() string
	GenerateImage(ctx context.Context, config Config) (*Image, error)
}
