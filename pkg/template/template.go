// Package template renders node template text against trigger contexts.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Mode controls how undefined variables are treated during rendering.
type Mode int

const (
	// Lenient substitutes the empty string for undefined variables.
	Lenient Mode = iota
	// Strict fails the render when a template references an undefined variable.
	Strict
)

// RenderError reports a template that could not be parsed or executed.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render template %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer renders template strings with text-substitution semantics only; a
// template can read the data it is given but cannot reach anything else.
type Renderer struct {
	mode Mode
}

func NewRenderer(mode Mode) *Renderer {
	return &Renderer{mode: mode}
}

// Render executes the template string against the given data context and
// returns the rendered text.
func (r *Renderer) Render(templateStr string, data map[string]any) (string, error) {
	missingKey := "missingkey=zero"
	if r.mode == Strict {
		missingKey = "missingkey=error"
	}

	tmpl, err := template.
		New("node").
		Option(missingKey).
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return "", &RenderError{Template: templateStr, Err: err}
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &RenderError{Template: templateStr, Err: err}
	}

	result := buf.String()

	// missingkey=zero renders untyped nils as "<no value>"; lenient mode
	// promises empty substitution instead.
	if r.mode == Lenient {
		result = strings.ReplaceAll(result, "<no value>", "")
	}

	return result, nil
}
