package llm_test

import (
	"testing"

	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResults_Object(t *testing.T) {
	content := `{"results":[
		{"item_id":"1","item_name":" CBC ","dimension_id":"d1","confidence":0.8,"reason":"lab test"},
		{"item_name":"Chest X-ray","dimension_id":"d2","confidence":1.4}
	]}`

	results, err := llm.ParseResults("openai", content)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "CBC", results[0].ItemName)
	assert.Equal(t, "1", results[0].ItemID)
	assert.Equal(t, "d1", results[0].DimensionID)
	assert.Equal(t, 0.8, results[0].Confidence)
	assert.Equal(t, 1.0, results[1].Confidence)
}

func TestParseResults_FencedAndProse(t *testing.T) {
	content := "Here you go:\n```json\n{\"results\":[{\"item_id\":\"7\",\"dimension_id\":\"d\",\"confidence\":0.5}]}\n```"

	results, err := llm.ParseResults("ollama", content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "7", results[0].ItemID)
}

func TestParseResults_BareArray(t *testing.T) {
	results, err := llm.ParseResults("vllm", `[{"item_name":"MRI","dimension_id":"d","confidence":0.3}]`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "MRI", results[0].ItemName)
}

func TestParseResults_EmptyResults(t *testing.T) {
	results, err := llm.ParseResults("openai", `{"results":[]}`)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParseResults_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I cannot help with that"},
		{"truncated", `{"results":[{"item_name":"a"`},
		{"missing results", `{"answers":[]}`},
		{"missing dimension", `{"results":[{"item_name":"a","confidence":0.5}]}`},
		{"missing identity", `{"results":[{"dimension_id":"d","confidence":0.5}]}`},
		{"confidence string", `{"results":[{"item_name":"a","dimension_id":"d","confidence":"high"}]}`},
		{"empty dimension", `{"results":[{"item_name":"a","dimension_id":"","confidence":0.5}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.ParseResults("openai", tt.content)
			require.Error(t, err)
			assert.ErrorIs(t, err, llm.ErrInvalidResponse)
			assert.Equal(t, llm.KindFatal, llm.KindOf(err))
		})
	}
}
