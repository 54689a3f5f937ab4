// Package genai holds the generative capabilities of the pipeline: exam-style
// question drafting, differential label completion, and patient-facing
// summaries. All of them speak strict JSON to the model and validate the
// parsed result before accepting it.
package genai

import (
	"strings"

	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
)

// Generator wraps an Anthropic client with the model configuration shared by
// all generation calls. Question drafting runs on the stronger model; label
// completion and patient summaries run on the lighter one.
type Generator struct {
	client     anthropic.Client
	model      string
	lightModel string
	maxTokens  int64
}

// NewGenerator creates a Generator. Both arguments must be valid Anthropic
// model IDs; an empty lightModel falls back to model.
func NewGenerator(client anthropic.Client, model, lightModel string) *Generator {
	if lightModel == "" {
		lightModel = model
	}
	return &Generator{
		client:     client,
		model:      model,
		lightModel: lightModel,
		maxTokens:  2048,
	}
}

func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// normalizeLabel lowercases and collapses whitespace for label comparison.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
