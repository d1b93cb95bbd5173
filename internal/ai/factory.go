package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/valuecalc/internal/ai/anthropic"
	"github.com/kiranshivaraju/valuecalc/internal/ai/mock"
	"github.com/kiranshivaraju/valuecalc/internal/ai/ollama"
	"github.com/kiranshivaraju/valuecalc/internal/ai/openai"
	"github.com/kiranshivaraju/valuecalc/internal/ai/vllm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

var constructors = map[string]func(cfg config.AIConfig) models.Classifier{
	"ollama": func(cfg config.AIConfig) models.Classifier {
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout)
	},
	"vllm": func(cfg config.AIConfig) models.Classifier {
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout)
	},
	"openai": func(cfg config.AIConfig) models.Classifier {
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout)
	},
	"anthropic": func(cfg config.AIConfig) models.Classifier {
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout)
	},
	config.ProviderMock: func(config.AIConfig) models.Classifier {
		return mock.NewMockProvider()
	},
}

// Providers returns the accepted provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider constructs the classifier selected by config. Callers wrap the
// result in a Guarded before handing it to the batch runner.
func NewProvider(cfg config.AIConfig) (models.Classifier, error) {
	build, ok := constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown AI provider %q: must be one of %s",
			cfg.Provider, strings.Join(Providers(), ", "))
	}
	return build(cfg), nil
}
