package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls the generate-image endpoint of a running `imagebatch serve`
type HTTPClient struct {
	BaseURL    string
	Token      string // bearer token when the server requires auth
	HTTPClient *http.Client
}

// NewHTTPClient creates a client for the server at baseURL
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Generate posts the prompt and credential and maps every failure to *Error
func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate-image", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp Error
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr != nil || errResp.Message == "" {
			errResp.Message = "API request failed"
		}
		errResp.Status = resp.StatusCode
		return nil, &errResp
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return &out, nil
}
