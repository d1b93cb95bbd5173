package ollama

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Provider implements models.Classifier using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *resty.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: llm.NewClient(cfg.BaseURL, timeout)}
}

func (p *Provider) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func (p *Provider) Classify(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt(req)},
			{Role: "user", Content: llm.UserMessage(req)},
		},
		Format:  "json",
		Options: map[string]any{"temperature": req.Temperature},
	}

	var resp chatResponse
	if err := llm.PostJSON(ctx, p.Name(), p.client.R(), "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	return llm.ParseResults(p.Name(), resp.Message.Content)
}

var _ models.Classifier = (*Provider)(nil)
