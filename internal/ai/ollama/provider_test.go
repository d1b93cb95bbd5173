package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/ai/ollama"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen2.5", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, "json", body["format"])
		assert.Equal(t, 0.2, body["options"].(map[string]any)["temperature"])

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"results\":[{\"item_name\":\"MRI\",\"dimension_id\":\"d2\",\"confidence\":0.95}]}"}}`))
	}))
	defer srv.Close()

	p := ollama.NewProvider(config.OllamaConfig{BaseURL: srv.URL, Model: "qwen2.5"}, time.Second)
	assert.Equal(t, "ollama", p.Name())

	req := models.ClassificationRequest{Temperature: 0.2, Items: []models.ClassificationItem{{ID: "1", Name: "MRI"}}}
	results, err := p.Classify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].DimensionID)
}

func TestClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := ollama.NewProvider(config.OllamaConfig{BaseURL: url, Model: "m"}, time.Second)
	_, err := p.Classify(context.Background(), models.ClassificationRequest{})
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))
}
