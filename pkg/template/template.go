// Package template provides templating functionality for notification messages and workflow
// action configuration.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

// LeadData builds the template data for a lead at a point in time.
// Templates reference it as {{ .lead.first_name }}, {{ .now }} and {{ .vars.key }}.
func LeadData(lead *models.Lead, now time.Time, vars map[string]any) map[string]any {
	data := map[string]any{
		"now":  now.UTC().Format(time.RFC3339),
		"vars": vars,
	}

	if lead != nil {
		data["lead"] = lead.TemplateData()
	}

	return data
}

// NeedsTemplating checks if a string contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderString executes a template and returns its text output.
func RenderString(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := template.
		New("message").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes a template and converts the result to a typed value: JSON objects and arrays,
// numbers and booleans are decoded, anything else stays a string.
func Render(templateStr string, data any) (any, error) {
	result, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderValues renders every string value of a map; other values are copied unchanged.
func RenderValues(values map[string]any, data any) (map[string]any, error) {
	rendered := make(map[string]any, len(values))

	for key, value := range values {
		str, ok := value.(string)
		if !ok || !NeedsTemplating(str) {
			rendered[key] = value

			continue
		}

		v, err := Render(str, data)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}

		rendered[key] = v
	}

	return rendered, nil
}
