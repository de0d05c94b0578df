// Package generation is the single-prompt image generation service the batch
// runner calls once per item.
package generation

import (
	"context"
	"net/http"
)

// Request is one prompt plus the credential chosen for it
type Request struct {
	Prompt     string `json:"prompt"`
	Credential string `json:"apiKey,omitempty"`
}

// DefaultMIMEType is assumed when a response does not name its image type
const DefaultMIMEType = "image/png"

// Response carries base64 image bytes, their MIME type and an optional
// suggested filename
type Response struct {
	ImageBase64 string `json:"imageBase64"`
	MIMEType    string `json:"mimeType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// Service generates one image per call. Every failure, including transport
// faults, is reported as an *Error.
type Service interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Error is the failure shape of the service
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrPromptRequired = &Error{Status: http.StatusBadRequest, Message: "Prompt is required"}
	ErrNoAPIKey       = &Error{Status: http.StatusInternalServerError, Message: "No API key provided (request credential or environment)"}
)
