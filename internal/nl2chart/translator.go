// Package nl2chart derives a chart specification from a question and the
// table it produced, using an OpenAI-compatible chat-completion endpoint.
// The spec is deliberately small: enough for a renderer to pick a chart type
// and bind axes, nothing more.
package nl2chart

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tabletalk/tabletalk/internal/table"
)

var knownKinds = []string{"bar", "line", "pie", "scatter", "histogram"}

// Spec is the validated chart representation stored as a chart artifact.
type Spec struct {
	Kind   string `json:"kind"`
	Title  string `json:"title,omitempty"`
	XField string `json:"x_field"`
	YField string `json:"y_field,omitempty"`
}

func (s Spec) Validate(columns []string) error {
	if !slices.Contains(knownKinds, s.Kind) {
		return fmt.Errorf("unknown chart kind %q", s.Kind)
	}
	if strings.TrimSpace(s.XField) == "" {
		return fmt.Errorf("chart x_field is required")
	}
	if !slices.Contains(columns, s.XField) {
		return fmt.Errorf("chart x_field %q is not a result column", s.XField)
	}
	if s.YField != "" && !slices.Contains(columns, s.YField) {
		return fmt.Errorf("chart y_field %q is not a result column", s.YField)
	}
	return nil
}

type Request struct {
	Question string      `json:"question"`
	Table    table.Table `json:"table"`
	// SampleRows bounds how many data rows are shown to the model.
	SampleRows int `json:"sample_rows"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Spec, error)
}
