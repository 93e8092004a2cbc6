package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type SizeCategory string

const (
	SizeSmall  SizeCategory = "small"
	SizeMedium SizeCategory = "medium"
	SizeLarge  SizeCategory = "large"
)

type QualityTier string

const (
	QualityEconomy  QualityTier = "economy"
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
)

// Model is the writable shape of an LLM model entry.
type Model struct {
	ModelID         string       `json:"model_id"`
	Name            string       `json:"name"`
	ProviderID      string       `json:"provider_id"`
	SizeCategory    SizeCategory `json:"size_category,omitempty"`
	QualityTier     QualityTier  `json:"quality_tier,omitempty"`
	InputCostPer1K  float64      `json:"input_cost_per_1k"`
	OutputCostPer1K float64      `json:"output_cost_per_1k"`
	ContextWindow   int          `json:"context_window,omitempty"`
}

func (m *Model) Validate() error {
	if strings.TrimSpace(m.ModelID) == "" {
		return errors.New("model ID is required")
	}
	if m.ProviderID == "" {
		return errors.New("provider ID is required")
	}
	if _, err := uuid.Parse(m.ProviderID); err != nil {
		return errors.New("provider ID must be a valid UUID")
	}
	switch m.SizeCategory {
	case "", SizeSmall, SizeMedium, SizeLarge:
	default:
		return fmt.Errorf("invalid size_category: %s", m.SizeCategory)
	}
	switch m.QualityTier {
	case "", QualityEconomy, QualityStandard, QualityPremium:
	default:
		return fmt.Errorf("invalid quality_tier: %s", m.QualityTier)
	}
	if m.InputCostPer1K < 0 || m.OutputCostPer1K < 0 {
		return errors.New("costs must not be negative")
	}
	if m.ContextWindow < 0 {
		return errors.New("context_window must not be negative")
	}
	return nil
}

type AddRequest Model

type UpdateRequest struct {
	Model
	IsActive *bool `json:"is_active,omitempty"`
}

type GetResponse struct {
	ID        string `json:"id"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	Model
}

type ListResponse struct {
	Items []GetResponse `json:"items"`
}
