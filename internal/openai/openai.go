package openai

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

	"github.com/lehigh-university-libraries/imagebatch/internal/providers"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-image-1"
	defaultSize    = "1024x1024"
)

// OpenAI is a provider for the OpenAI images endpoint
type OpenAI struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a new OpenAI provider
func New() *OpenAI {
	return &OpenAI{
		BaseURL: DefaultBaseURL,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (o *OpenAI) Name() string {
	return "openai"
}

// GenerateImage generates one image for the prompt
func (o *OpenAI) GenerateImage(ctx context.Context, config providers.Config) (*providers.Image, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key not set")
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	body := map[string]interface{}{
		"model":  model,
		"prompt": config.Prompt,
		"n":      1,
		"size":   defaultSize,
	}
	// dall-e models default to URLs; gpt-image models always return base64
	if strings.HasPrefix(model, "dall-e") {
		body["response_format"] = "b64_json"
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := strings.TrimRight(o.BaseURL, "/") + "/v1/images/generations"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+config.APIKey)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, errorMessage(resp.Body))
	}

	var response struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("no image data received from OpenAI")
	}

	data, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}

	return &providers.Image{Data: data, MIMEType: "image/png"}, nil
}

// errorMessage extracts error.message from an OpenAI error body, falling back to the raw body
func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
