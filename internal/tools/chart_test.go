package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestChartTool_ProducesArtifact(t *testing.T) {
	tool := NewChartTool()

	res, err := tool.Execute(context.Background(), json.RawMessage(`{
		"chart_type": "bar",
		"title": "Headcount by office",
		"labels": ["NYC", "SF", "Berlin"],
		"values": [120, 85, 40]
	}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Artifact == nil {
		t.Fatalf("expected a chart artifact")
	}
	if res.Artifact.Type != "chart" || res.Artifact.MIME != "application/json" {
		t.Fatalf("artifact = %+v", res.Artifact)
	}

	var spec struct {
		ChartType string    `json:"chart_type"`
		Labels    []string  `json:"labels"`
		Values    []float64 `json:"values"`
	}
	if err := json.Unmarshal(res.Artifact.Data, &spec); err != nil {
		t.Fatalf("artifact data: %v", err)
	}
	if spec.ChartType != "bar" || len(spec.Labels) != 3 || len(spec.Values) != 3 {
		t.Fatalf("spec = %+v", spec)
	}
}

func TestChartTool_RejectsBadInput(t *testing.T) {
	tool := NewChartTool()

	cases := []struct {
		name string
		args string
	}{
		{"unknown type", `{"chart_type":"donut","labels":["a"],"values":[1]}`},
		{"length mismatch", `{"chart_type":"bar","labels":["a","b"],"values":[1]}`},
		{"empty labels", `{"chart_type":"pie","labels":[],"values":[]}`},
		{"not json", `{{`},
	}
	for _, tc := range cases {
		if _, err := tool.Execute(context.Background(), json.RawMessage(tc.args)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
