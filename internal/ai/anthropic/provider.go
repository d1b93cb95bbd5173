package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 4096
)

// Provider implements models.Classifier using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *resty.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	client := llm.NewClient(cfg.BaseURL, timeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion)
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Classify(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      llm.SystemPrompt(req),
		Messages:    []message{{Role: "user", Content: llm.UserMessage(req)}},
		Temperature: req.Temperature,
	}

	var resp messagesResponse
	if err := llm.PostJSON(ctx, p.Name(), p.client.R(), "/v1/messages", body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, llm.Fatal(p.Name(), fmt.Errorf("%w: no text content", llm.ErrInvalidResponse))
	}
	return llm.ParseResults(p.Name(), text.String())
}

var _ models.Classifier = (*Provider)(nil)
