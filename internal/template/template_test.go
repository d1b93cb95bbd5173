package template_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/template"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ReplacesEveryOccurrence(t *testing.T) {
	r := template.NewRenderer()
	out := r.Render("SELECT {{period}}, {{ period }} WHERE unit = '{{unit_code}}'",
		template.Params{"period": "2024-03", "unit_code": "D01"})
	assert.Equal(t, "SELECT 2024-03, 2024-03 WHERE unit = 'D01'", out)
}

func TestRender_UnknownPlaceholderVerbatim(t *testing.T) {
	r := template.NewRenderer()
	out := r.Render("SELECT {{mystery}} FROM t WHERE p = '{{period}}'",
		template.Params{"period": "2024-03"})
	assert.Equal(t, "SELECT {{mystery}} FROM t WHERE p = '2024-03'", out)
}

func TestRender_UnterminatedOpener(t *testing.T) {
	r := template.NewRenderer()
	out := r.Render("SELECT '{{period}}', '{{broken", template.Params{"period": "2024-03"})
	assert.Equal(t, "SELECT '2024-03', '{{broken", out)
}

func TestRender_NoPlaceholders(t *testing.T) {
	r := template.NewRenderer()
	assert.Equal(t, "SELECT 1", r.Render("SELECT 1", nil))
}

func TestRender_EmptyValueBlanks(t *testing.T) {
	r := template.NewRenderer()
	out := r.Render("unit='{{unit_id}}'", template.Params{"unit_id": ""})
	assert.Equal(t, "unit=''", out)
}

func TestParsePeriod(t *testing.T) {
	for _, in := range []string{"2024-02", "202402", " 2024-02 "} {
		got, err := template.ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, 2, int(got.Month()))
		assert.Equal(t, 1, got.Day())
	}

	_, err := template.ParsePeriod("2024/02")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid period")
}

func TestBuildParams_DerivesDates(t *testing.T) {
	mv := uuid.New()
	task := &models.Task{ID: uuid.New(), TenantID: uuid.New(), Period: "202402", ModelVersionID: &mv}

	p, err := template.BuildParams(task)
	require.NoError(t, err)
	assert.Equal(t, "2024-02", p[template.ParamPeriod])
	assert.Equal(t, "2024", p[template.ParamYear])
	assert.Equal(t, "02", p[template.ParamMonth])
	assert.Equal(t, "2024-02-01", p[template.ParamFirstDay])
	assert.Equal(t, "2024-02-29", p[template.ParamLastDay])
	assert.Equal(t, mv.String(), p[template.ParamModelVersionID])
	assert.Equal(t, task.ID.String(), p[template.ParamTaskID])

	v, ok := p[template.ParamUnitID]
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestBuildParams_InvalidPeriod(t *testing.T) {
	_, err := template.BuildParams(&models.Task{ID: uuid.New(), Period: "March"})
	require.Error(t, err)
}

func TestForUnit(t *testing.T) {
	base := template.Params{"period": "2024-03"}
	unit := &models.Unit{ID: uuid.New(), Code: "ICU", Name: "Intensive Care"}

	p := template.ForUnit(base, unit)
	assert.Equal(t, unit.ID.String(), p[template.ParamUnitID])
	assert.Equal(t, "ICU", p[template.ParamUnitCode])
	assert.Equal(t, "Intensive Care", p[template.ParamUnitName])
	assert.NotContains(t, base, template.ParamUnitID, "base params must not be mutated")

	all := template.ForUnit(base, nil)
	assert.Equal(t, "", all[template.ParamUnitCode])

	r := template.NewRenderer()
	assert.Equal(t, "WHERE dept = ''", r.Render("WHERE dept = '{{unit_code}}'", all))
}
