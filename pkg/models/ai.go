package models

import "context"

// Classifier is the interface every external classification service implements.
// Never call a specific provider directly; inject this interface.
type Classifier interface {
	// Classify assigns each requested item to one of the request's dimensions.
	Classify(ctx context.Context, req ClassificationRequest) ([]ClassificationResult, error)
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string
}

// ClassificationRequest is one batch sent to the classifier.
type ClassificationRequest struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	Items        []ClassificationItem
	Dimensions   []Dimension
}

// ClassificationItem identifies an item to classify by both id and name.
type ClassificationItem struct {
	ID       string `json:"id"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// ClassificationResult is the classifier's verdict for one item.
type ClassificationResult struct {
	ItemID      string  `json:"item_id"`
	ItemName    string  `json:"item_name"`
	DimensionID string  `json:"dimension_id"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
}
