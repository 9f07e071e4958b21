package template

import (
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString_LeadData(t *testing.T) {
	lead := &models.Lead{
		ID:        "lead-1",
		FirstName: "Ana",
		Fields:    map[string]any{"program": "MBA"},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := LeadData(lead, now, map[string]any{"deadline": "April 1"})

	result, err := RenderString("Hi {{ .lead.first_name }}, your {{ .lead.fields.program }} application is due {{ .vars.deadline }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, your MBA application is due April 1", result)

	result, err = RenderString("Sent at {{ .now }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Sent at 2026-03-01T12:00:00Z", result)
}

func TestRenderString_PlainTextIsUntouched(t *testing.T) {
	result, err := RenderString("no templating here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templating here", result)
}

func TestRenderString_MissingKeyRendersEmpty(t *testing.T) {
	result, err := RenderString("Hi {{ .first_name }}!", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hi !", result)
}

func TestRenderString_Functions(t *testing.T) {
	data := map[string]any{"name": "", "city": "lisbon"}

	result, err := RenderString(`{{ default "there" .name }} from {{ upper .city }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "there from LISBON", result)
}

func TestRenderString_InvalidTemplate(t *testing.T) {
	_, err := RenderString("{{ .name ", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRender_TypedValues(t *testing.T) {
	data := map[string]any{
		"score":  42,
		"active": true,
		"name":   "Bea",
	}

	tests := []struct {
		name     string
		template string
		expected any
	}{
		{name: "number", template: "{{ .score }}", expected: 42.0},
		{name: "boolean", template: "{{ .active }}", expected: true},
		{name: "string", template: "{{ .name }}", expected: "Bea"},
		{name: "json object", template: `{"name": "{{ .name }}"}`, expected: map[string]any{"name": "Bea"}},
		{name: "json array", template: `[{{ .score }}, 1]`, expected: []any{42.0, 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRenderValues(t *testing.T) {
	lead := &models.Lead{ID: "lead-9", FirstName: "Caio"}
	now := time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)

	values, err := RenderValues(map[string]any{
		"last_contacted_at": "{{ .now }}",
		"greeting":          "Hello {{ .lead.first_name }}",
		"priority":          3,
		"status":            "contacted",
	}, LeadData(lead, now, nil))
	require.NoError(t, err)

	assert.Equal(t, "2026-05-10T08:30:00Z", values["last_contacted_at"])
	assert.Equal(t, "Hello Caio", values["greeting"])
	assert.Equal(t, 3, values["priority"])
	assert.Equal(t, "contacted", values["status"])
}
