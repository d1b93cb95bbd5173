package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kiranshivaraju/valuecalc/pkg/models"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const resultSchemaURL = "https://valuecalc.dev/schemas/classification-result.json"

const resultSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://valuecalc.dev/schemas/classification-result.json",
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["dimension_id", "confidence"],
        "anyOf": [
          { "required": ["item_name"] },
          { "required": ["item_id"] }
        ],
        "properties": {
          "item_id": { "type": "string" },
          "item_name": { "type": "string" },
          "dimension_id": { "type": "string", "minLength": 1 },
          "confidence": { "type": "number" },
          "reason": { "type": "string" }
        }
      }
    }
  }
}`

var compileResultSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal result schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resultSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add result schema resource: %w", err)
	}
	return c.Compile(resultSchemaURL)
})

// ParseResults extracts classification results from a model's text answer.
// The answer may be wrapped in a markdown fence or surrounded by prose; a bare
// array is accepted as the results list. Anything that does not validate is a
// fatal error for the batch. Confidence is clamped to [0,1].
func ParseResults(provider, content string) ([]models.ClassificationResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, Fatal(provider, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if strings.HasPrefix(raw, "[") {
		raw = `{"results":` + raw + `}`
	}

	schema, err := compileResultSchema()
	if err != nil {
		return nil, Fatal(provider, err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, Fatal(provider, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if err := schema.Validate(doc); err != nil {
		return nil, Fatal(provider, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}

	var out struct {
		Results []models.ClassificationResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, Fatal(provider, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	for i := range out.Results {
		r := &out.Results[i]
		r.ItemName = strings.TrimSpace(r.ItemName)
		r.ItemID = strings.TrimSpace(r.ItemID)
		r.DimensionID = strings.TrimSpace(r.DimensionID)
		r.Confidence = clamp(r.Confidence)
	}
	return out.Results, nil
}

func extractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON found in response")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return "", fmt.Errorf("unterminated JSON in response")
	}
	return s[start : end+1], nil
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
