// Package template renders the parameter placeholders embedded in workflow step code.
package template

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Placeholder names recognized in step code.
const (
	ParamTaskID         = "task_id"
	ParamTenantID       = "tenant_id"
	ParamModelVersionID = "model_version_id"
	ParamPeriod         = "period"
	ParamYear           = "year"
	ParamMonth          = "month"
	ParamFirstDay       = "first_day"
	ParamLastDay        = "last_day"
	ParamUnitID         = "unit_id"
	ParamUnitCode       = "unit_code"
	ParamUnitName       = "unit_name"
)

// Params maps placeholder names to their substitution values.
type Params map[string]string

// With returns a copy of p with the given key set.
func (p Params) With(key, value string) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// Renderer substitutes placeholders in step code.
type Renderer interface {
	Render(code string, params Params) string
}

// PlaceholderRenderer replaces every {{name}} whose name is present in the
// params map. Unknown names and unterminated openers are left as written.
type PlaceholderRenderer struct{}

// NewRenderer returns the default Renderer.
func NewRenderer() Renderer {
	return PlaceholderRenderer{}
}

func (PlaceholderRenderer) Render(code string, params Params) string {
	if !strings.Contains(code, openDelim) {
		return code
	}

	var b strings.Builder
	b.Grow(len(code))

	rest := code
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start + len(openDelim)

		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+len(openDelim) : end])
		if v, ok := params[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : end+len(closeDelim)])
		}
		rest = rest[end+len(closeDelim):]
	}
	return b.String()
}

// ParsePeriod accepts "YYYY-MM" or "YYYYMM" and returns the first day of that month.
func ParsePeriod(period string) (time.Time, error) {
	p := strings.TrimSpace(period)
	for _, layout := range []string{"2006-01", "200601"} {
		if t, err := time.Parse(layout, p); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid period %q: expected YYYY-MM or YYYYMM", period)
}

// BuildParams derives the task-level parameters. Unit keys are present and
// blank; callers fill them per unit with ForUnit.
func BuildParams(task *models.Task) (Params, error) {
	p := Params{
		ParamTaskID:         task.ID.String(),
		ParamTenantID:       task.TenantID.String(),
		ParamModelVersionID: "",
		ParamPeriod:         task.Period,
		ParamUnitID:         "",
		ParamUnitCode:       "",
		ParamUnitName:       "",
	}
	if task.ModelVersionID != nil {
		p[ParamModelVersionID] = task.ModelVersionID.String()
	}

	if task.Period != "" {
		first, err := ParsePeriod(task.Period)
		if err != nil {
			return nil, err
		}
		last := first.AddDate(0, 1, -1)
		p[ParamPeriod] = first.Format("2006-01")
		p[ParamYear] = first.Format("2006")
		p[ParamMonth] = first.Format("01")
		p[ParamFirstDay] = first.Format(time.DateOnly)
		p[ParamLastDay] = last.Format(time.DateOnly)
	}
	return p, nil
}

// ForUnit returns a copy of p carrying the unit's identity. A nil unit leaves
// the unit keys blank.
func ForUnit(p Params, unit *models.Unit) Params {
	out := p.With(ParamUnitID, "")
	if unit == nil {
		out[ParamUnitCode] = ""
		out[ParamUnitName] = ""
		return out
	}
	out[ParamUnitID] = unitIDString(unit.ID)
	out[ParamUnitCode] = unit.Code
	out[ParamUnitName] = unit.Name
	return out
}

func unitIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
