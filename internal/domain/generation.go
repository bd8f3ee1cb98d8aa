/**
 * @description
 * This file defines the request/response models for the paid image
 * generation operation. The provider's heterogeneous response shapes are
 * normalized into GenerationResult at the falclient boundary; core logic
 * only ever sees this canonical form.
 */

package domain

// GenerationRequest is the DTO for an incoming text-to-image API request.
type GenerationRequest struct {
	Prompt       string `json:"prompt"`
	NumImages    int    `json:"num_images"`
	AspectRatio  string `json:"aspect_ratio"`
	OutputFormat string `json:"output_format"`
}

// GeneratedImage is one artifact produced by the generation provider.
type GeneratedImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// GenerationResult is the canonical successful outcome of one paid
// generation call.
type GenerationResult struct {
	Images     []GeneratedImage `json:"images"`
	ModelUsed  string           `json:"model_used"`
	PromptUsed string           `json:"prompt_used"`
	Seed       *int64           `json:"seed,omitempty"`
}

// SpendResult pairs a successful paid operation with the balance left
// after the debit committed.
type SpendResult struct {
	Result       *GenerationResult `json:"result"`
	CreditsSpent int64             `json:"credits_spent"`
	NewBalance   Balance           `json:"new_balance"`
}
