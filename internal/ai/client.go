// Package ai talks to the external inference service over HTTP. The
// service contract is a single generate endpoint accepting a text prompt
// and optionally one inline image.
package ai

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
)

// Client calls the inference service. A zero baseURL disables it: Enabled
// reports false and Generate returns ErrDisabled.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var ErrDisabled = fmt.Errorf("ai: inference service not configured")

// NewClient creates a client. Empty baseURL disables inference.
func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Enabled reports whether an inference service is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type generateRequest struct {
	Model  string       `json:"model"`
	Prompt string       `json:"prompt"`
	Image  *inlineImage `json:"image,omitempty"`
}

type inlineImage struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mime_type"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *Client) generate(ctx context.Context, req generateRequest) (string, error) {
	if c.baseURL == "" {
		return "", ErrDisabled
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("ai generate marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ai generate: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai generate read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai generate: status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ai generate decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ai generate: %s", out.Error)
	}
	return out.Text, nil
}

// Generate produces a text completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{Model: c.model, Prompt: prompt})
}

// GenerateVision produces a completion for prompt grounded on one image.
func (c *Client) GenerateVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/*"
	}
	return c.generate(ctx, generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Image: &inlineImage{
			Data:     base64.StdEncoding.EncodeToString(image),
			MimeType: mimeType,
		},
	})
}
