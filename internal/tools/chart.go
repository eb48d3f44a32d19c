package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/stream"
)

// ChartTool turns tabular data the model supplies into a chart-spec
// artifact the widget renders client-side.
type ChartTool struct{}

func NewChartTool() *ChartTool { return &ChartTool{} }

func (t *ChartTool) Name() string        { return "generate_chart" }
func (t *ChartTool) DisplayName() string { return "Chart" }

func (t *ChartTool) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        t.Name(),
		Description: "Render a bar, line or pie chart from labeled numeric data.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"chart_type": {"type": "string", "enum": ["bar", "line", "pie"]},
				"title": {"type": "string"},
				"labels": {"type": "array", "items": {"type": "string"}},
				"values": {"type": "array", "items": {"type": "number"}}
			},
			"required": ["chart_type", "labels", "values"]
		}`),
	}
}

type chartArgs struct {
	ChartType string    `json:"chart_type"`
	Title     string    `json:"title"`
	Labels    []string  `json:"labels"`
	Values    []float64 `json:"values"`
}

func (t *ChartTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	_ = ctx

	var in chartArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("generate_chart: bad arguments: %w", err)
	}
	switch in.ChartType {
	case "bar", "line", "pie":
	default:
		return nil, fmt.Errorf("generate_chart: unsupported chart type %q", in.ChartType)
	}
	if len(in.Labels) == 0 || len(in.Labels) != len(in.Values) {
		return nil, fmt.Errorf("generate_chart: labels and values must be non-empty and equal length")
	}

	spec, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	return &Result{
		Content: fmt.Sprintf("generated a %s chart with %d data points", in.ChartType, len(in.Values)),
		Artifact: &stream.Artifact{
			Type:  "chart",
			Title: in.Title,
			MIME:  "application/json",
			Data:  spec,
		},
	}, nil
}
