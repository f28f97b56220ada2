// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Insight is one finding attached to an analysis.
type Insight struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	Evidence       string `json:"evidence,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// fencedJSON matches a ```json fenced block in model output
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseInsights extracts {"insights": [...]} from model output. Output that
// carries no parseable block becomes a single "analysis" insight holding the
// raw text.
func ParseInsights(output string) []Insight {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}

	candidates := []string{output}
	if m := fencedJSON.FindStringSubmatch(output); len(m) == 2 {
		candidates = append([]string{m[1]}, candidates...)
	}
	if start, end := strings.Index(output, "{"), strings.LastIndex(output, "}"); start >= 0 && end > start {
		candidates = append(candidates, output[start:end+1])
	}

	for _, c := range candidates {
		var parsed struct {
			Insights []Insight `json:"insights"`
		}
		if err := json.Unmarshal([]byte(c), &parsed); err == nil && parsed.Insights != nil {
			return parsed.Insights
		}
	}

	return []Insight{{Type: "analysis", Description: output}}
}

// insightMaps converts insights to the plain maps carried in responses.
func insightMaps(in []Insight) []any {
	out := make([]any, 0, len(in))
	for _, i := range in {
		m := map[string]any{"type": i.Type, "description": i.Description}
		if i.Evidence != "" {
			m["evidence"] = i.Evidence
		}
		if i.Recommendation != "" {
			m["recommendation"] = i.Recommendation
		}
		out = append(out, m)
	}
	return out
}

// RenderPrompt renders a prompt template with variables
func RenderPrompt(promptTemplate string, variables map[string]any) (string, error) {
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

const insightsSystemPrompt = "You are an assistant that analyses student learning data for teachers. Answer in JSON only."

const insightsPrompt = `Based on the following {{.Kind}} analysis of student learning data, produce the key insights and recommendations.

Analysis result:
{{.Data}}

Consider engagement, learning behaviour patterns, potential problems and concrete improvements.
Return JSON of the form {"insights": [{"type": "...", "description": "...", "evidence": "...", "recommendation": "..."}]}.`

const summarySystemPrompt = "You write concise executive summaries of learning analytics reports."

const summaryPrompt = `Write a short executive summary (at most five sentences) of a {{.ReportType}} learning report for a {{.Audience}} audience.

Key metrics:
{{.Metrics}}

Notable findings:
{{range .Findings}}- {{.}}
{{end}}`
