package llm

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// DefaultSystemPrompt is used when a prompt module leaves its system prompt empty.
const DefaultSystemPrompt = "You classify hospital charge items into cost dimensions. " +
	"Answer with JSON only."

// SystemPrompt returns the request's system prompt or the default.
func SystemPrompt(req models.ClassificationRequest) string {
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// UserMessage renders the batch into the single user message sent to the
// provider: the candidate dimensions, the items, and the expected answer shape.
func UserMessage(req models.ClassificationRequest) string {
	var b strings.Builder

	b.WriteString("Candidate dimensions:\n")
	for _, d := range req.Dimensions {
		fmt.Fprintf(&b, "- id=%s code=%s name=%s", d.ID, d.Code, d.Name)
		if d.Description != "" {
			fmt.Fprintf(&b, " description=%s", oneLine(d.Description))
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nItems to classify:\n")
	for _, it := range req.Items {
		fmt.Fprintf(&b, "- id=%s name=%s", it.ID, oneLine(it.Name))
		if it.Code != "" {
			fmt.Fprintf(&b, " code=%s", it.Code)
		}
		if it.Category != "" {
			fmt.Fprintf(&b, " category=%s", oneLine(it.Category))
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nChoose exactly one dimension id for every item. Reply with a JSON object of the form ")
	b.WriteString(`{"results":[{"item_id":"...","item_name":"...","dimension_id":"...","confidence":0.0,"reason":"..."}]}`)
	b.WriteString(" where confidence is between 0 and 1. Copy item names exactly as given.")
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
