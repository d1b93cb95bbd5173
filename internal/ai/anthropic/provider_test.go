package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/valuecalc/internal/ai/anthropic"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.Equal(t, "sort these", body["system"])
		assert.EqualValues(t, 4096, body["max_tokens"])

		_, _ = w.Write([]byte(`{"content":[
			{"type":"text","text":"{\"results\":[{\"item_name\":\"CBC\","},
			{"type":"text","text":"\"dimension_id\":\"d1\",\"confidence\":0.7}]}"}
		]}`))
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL, APIKey: "sk-ant-test", Model: "claude-test"}, time.Second)
	assert.Equal(t, "anthropic", p.Name())

	req := models.ClassificationRequest{SystemPrompt: "sort these", Items: []models.ClassificationItem{{ID: "1", Name: "CBC"}}}
	results, err := p.Classify(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CBC", results[0].ItemName)
	assert.Equal(t, 0.7, results[0].Confidence)
}

func TestClassify_NoText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL}, time.Second)
	_, err := p.Classify(context.Background(), models.ClassificationRequest{})
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}

func TestClassify_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL}, time.Second)
	_, err := p.Classify(context.Background(), models.ClassificationRequest{})
	assert.True(t, llm.IsRetryable(err))
}
