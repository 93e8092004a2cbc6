package providers

import "time"

// ClientType represents the type of LLM provider client
type ClientType string

const (
	ClientTypeOpenAI       ClientType = "openai"
	ClientTypeOpenAICompat ClientType = "openai-compat"
	ClientTypeAnthropic    ClientType = "anthropic"
	ClientTypeGoogle       ClientType = "google"
	ClientTypeAzure        ClientType = "azure"
	ClientTypeBedrock      ClientType = "bedrock"
	ClientTypeMistral      ClientType = "mistral"
	ClientTypeXAI          ClientType = "xai"
	ClientTypeOllama       ClientType = "ollama"
)

// CreateRequest represents a request to register a shared LLM provider
type CreateRequest struct {
	Name       string         `json:"name" validate:"required"`
	ClientType ClientType     `json:"client_type" validate:"required"`
	BaseURL    string         `json:"base_url" validate:"omitempty,url"`
	IsActive   *bool          `json:"is_active,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UpdateRequest represents a request to update an existing LLM provider
type UpdateRequest struct {
	Name       *string        `json:"name,omitempty"`
	ClientType *ClientType    `json:"client_type,omitempty"`
	BaseURL    *string        `json:"base_url,omitempty"`
	IsActive   *bool          `json:"is_active,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GetResponse represents the response for getting a provider
type GetResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	ClientType string         `json:"client_type"`
	BaseURL    string         `json:"base_url"`
	IsActive   bool           `json:"is_active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ListResponse represents the response for listing providers
type ListResponse struct {
	Providers []GetResponse `json:"providers"`
	Total     int64         `json:"total"`
}
