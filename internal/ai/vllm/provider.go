package vllm

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/ai/openai"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Provider implements models.Classifier against a vLLM server's
// OpenAI-compatible endpoint.
type Provider struct {
	cfg    config.VLLMConfig
	client *resty.Client
}

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: llm.NewClient(cfg.BaseURL, timeout)}
}

func (p *Provider) Name() string { return "vllm" }

// Classify always uses the served model; vLLM hosts exactly one.
func (p *Provider) Classify(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	content, err := openai.Complete(ctx, p.Name(), p.client, "/v1/chat/completions", p.cfg.Model, req, false)
	if err != nil {
		return nil, err
	}
	return llm.ParseResults(p.Name(), content)
}

var _ models.Classifier = (*Provider)(nil)
