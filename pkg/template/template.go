// Package template renders outbound message content against the
// conversation context, so flows can reference captured variables as
// {{.name}} inside node content.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Render substitutes context variables into content. Unknown variables
// render as an empty string rather than failing the turn.
func Render(content string, context map[string]string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}

	tmpl, err := template.
		New("content").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"title": func(s string) string {
				if s == "" {
					return s
				}

				return strings.ToUpper(s[:1]) + s[1:]
			},
		}).Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse content template: %w", err)
	}

	data := make(map[string]any, len(context))
	for key, value := range context {
		data[key] = value
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render content template: %w", err)
	}

	// missingkey=zero prints "<no value>" for absent map keys.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
