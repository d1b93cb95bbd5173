package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Provider implements models.Classifier using the OpenAI chat completions API.
type Provider struct {
	cfg    config.OpenAIConfig
	client *resty.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	client := llm.NewClient(cfg.BaseURL, timeout).SetAuthToken(cfg.APIKey)
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Classify(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	content, err := Complete(ctx, p.Name(), p.client, "/chat/completions", model, req, true)
	if err != nil {
		return nil, err
	}
	return llm.ParseResults(p.Name(), content)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion to an OpenAI-compatible endpoint and
// returns the assistant's text.
func Complete(ctx context.Context, provider string, client *resty.Client, path, model string, req models.ClassificationRequest, jsonMode bool) (string, error) {
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt(req)},
			{Role: "user", Content: llm.UserMessage(req)},
		},
		Temperature: req.Temperature,
	}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := llm.PostJSON(ctx, provider, client.R(), path, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", llm.Fatal(provider, fmt.Errorf("%w: no choices", llm.ErrInvalidResponse))
	}
	return resp.Choices[0].Message.Content, nil
}

var _ models.Classifier = (*Provider)(nil)
