package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/ai/openai"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() models.ClassificationRequest {
	return models.ClassificationRequest{
		SystemPrompt: "classify",
		Temperature:  0.1,
		Items:        []models.ClassificationItem{{ID: "i1", Name: "CBC"}},
		Dimensions:   []models.Dimension{{ID: uuid.New(), Code: "LAB", Name: "Laboratory"}},
	}
}

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestClassify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"results":[{"item_name":"CBC","dimension_id":"d1","confidence":0.9}]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini"}, time.Second)
	results, err := p.Classify(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].DimensionID)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "classify", msgs[0].(map[string]any)["content"])
	assert.Contains(t, msgs[1].(map[string]any)["content"], "name=CBC")
}

func TestClassify_RequestModelWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "gpt-4o", body["model"])
		_ = json.NewEncoder(w).Encode(completion(`{"results":[]}`))
	}))
	defer srv.Close()

	req := request()
	req.Model = "gpt-4o"
	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"}, time.Second)
	_, err := p.Classify(context.Background(), req)
	require.NoError(t, err)
}

func TestClassify_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL}, time.Second)
	_, err := p.Classify(context.Background(), request())
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}

func TestClassify_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "nope"}, time.Second)
	_, err := p.Classify(context.Background(), request())
	assert.Equal(t, llm.KindValidation, llm.KindOf(err))
}

func TestClassify_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion("sorry, I can't"))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL}, time.Second)
	_, err := p.Classify(context.Background(), request())
	assert.Equal(t, llm.KindFatal, llm.KindOf(err))
}
