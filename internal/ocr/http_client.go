// Package ocr provides clients that turn listing images into text.
package ocr

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

const defaultTimeout = 30 * time.Second

// HTTPClient talks to an OCR service over its JSON API. The service accepts
// a base64 data URL and returns recognized text per page.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds an OCR client for the given endpoint.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ocr endpoint is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type recognizeRequest struct {
	Document recognizeDocument `json:"document"`
}

type recognizeDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type recognizeResponse struct {
	Pages []recognizePage `json:"pages"`
}

type recognizePage struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Recognize submits the image and returns all recognized text joined by
// blank lines.
func (c *HTTPClient) Recognize(ctx context.Context, image []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	reqBody := recognizeRequest{
		Document: recognizeDocument{
			Type:     "image_url",
			ImageURL: "data:image/jpeg;base64," + encoded,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr api call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr api returned %d: %s", resp.StatusCode, string(respBody))
	}

	var rr recognizeResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return "", fmt.Errorf("unmarshal ocr response: %w", err)
	}

	var sb strings.Builder
	for i, page := range rr.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Text)
	}
	return sb.String(), nil
}
