/**
 * @description
 * This package provides a client for the fal.ai image generation API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * provider, handling request body construction, and parsing responses.
 *
 * The provider returns images under several different payload shapes
 * depending on the model and queue path. normalizeImages folds them all
 * into the canonical domain.GenerationResult here, at the boundary, so
 * nothing downstream ever branches on optional shapes.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: Canonical generation result types.
 */
package falclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumina/billing-service/internal/domain"
)

// DefaultModel is the text-to-image model invoked for paid generations.
const DefaultModel = "fal-ai/nano-banana-pro"

// ErrNoImages is returned when the provider reports success but the
// response carries no usable image data.
var ErrNoImages = errors.New("generation provider returned no images")

// Client is a client for the fal.ai API.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewClient creates a new fal.ai API client. Generation calls are bounded
// by the HTTP client timeout; a timeout surfaces as an error outcome and
// never as a charge.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   DefaultModel,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateRequest struct {
	Prompt       string `json:"prompt"`
	NumImages    int    `json:"num_images"`
	AspectRatio  string `json:"aspect_ratio"`
	OutputFormat string `json:"output_format"`
}

type imagePayload struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

// generateResponse covers the shapes the provider is known to emit:
// a top-level images array, a single top-level image, or either of those
// nested under data.
type generateResponse struct {
	Images []imagePayload `json:"images"`
	Image  *imagePayload  `json:"image"`
	Data   *struct {
		Images []imagePayload `json:"images"`
		Image  *imagePayload  `json:"image"`
	} `json:"data"`
	Seed   *int64 `json:"seed"`
	Detail string `json:"detail"`
}

// Generate invokes the text-to-image model and returns the normalized
// result. Any non-2xx status or empty image payload is an error.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	payload := generateRequest{
		Prompt:       req.Prompt,
		NumImages:    req.NumImages,
		AspectRatio:  req.AspectRatio,
		OutputFormat: req.OutputFormat,
	}
	if payload.NumImages <= 0 {
		payload.NumImages = 1
	}
	if payload.AspectRatio == "" {
		payload.AspectRatio = "1:1"
	}
	if payload.OutputFormat == "" {
		payload.OutputFormat = "jpeg"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s", c.BaseURL, c.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure generateResponse
		if err := json.Unmarshal(respBody, &failure); err == nil && failure.Detail != "" {
			return nil, fmt.Errorf("generation provider error (status %d): %s", resp.StatusCode, failure.Detail)
		}
		return nil, fmt.Errorf("generation provider error (status %d)", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	images := normalizeImages(parsed)
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	return &domain.GenerationResult{
		Images:     images,
		ModelUsed:  c.Model,
		PromptUsed: req.Prompt,
		Seed:       parsed.Seed,
	}, nil
}

// normalizeImages extracts images from whichever of the provider's
// response shapes is present, in order of preference.
func normalizeImages(resp generateResponse) []domain.GeneratedImage {
	var raw []imagePayload
	switch {
	case len(resp.Images) > 0:
		raw = resp.Images
	case resp.Image != nil && resp.Image.URL != "":
		raw = []imagePayload{*resp.Image}
	case resp.Data != nil && len(resp.Data.Images) > 0:
		raw = resp.Data.Images
	case resp.Data != nil && resp.Data.Image != nil && resp.Data.Image.URL != "":
		raw = []imagePayload{*resp.Data.Image}
	}

	images := make([]domain.GeneratedImage, 0, len(raw))
	for _, img := range raw {
		if img.URL == "" {
			continue
		}
		images = append(images, domain.GeneratedImage{
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			ContentType: img.ContentType,
		})
	}
	return images
}
