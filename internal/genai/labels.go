package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
)

const extraLabelsSystemPrompt = `You are a clinician proposing plausible DIFFERENTIAL DIAGNOSES for an educational single-best-answer MCQ.
Task: propose additional diagnosis labels to complete the options list.
Rules:
- Output MUST be a strict JSON object with key "options": [string...]
- Each option MUST be a diagnosis label (short, 2-8 words), NOT a sentence.
- Must be clinically plausible given the case context.
- Must NOT duplicate or paraphrase any existing labels provided.
- Avoid overly generic labels like "Non-specific condition".
- No drug names, no patient instructions, no PII.`

// genericLabelFragments are substrings that disqualify a proposed label.
var genericLabelFragments = []string{
	"unknown", "unclear", "non-specific", "other diagnosis", "not listed", "insufficient data",
}

// ExtraLabelsInput carries the case context for differential completion.
type ExtraLabelsInput struct {
	Patient   model.PatientContext
	Evidence  []model.Finding
	Diagnosis model.DiagnosisSnapshot
	Existing  []string
	Needed    int
}

// GenerateExtraLabels proposes up to in.Needed additional differential labels
// that do not collide with the existing ones. Returned labels are already
// deduplicated and filtered for generic filler.
func (g *Generator) GenerateExtraLabels(ctx context.Context, in ExtraLabelsInput) ([]string, error) {
	if in.Needed <= 0 {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"patient":         in.Patient,
		"evidence":        in.Evidence,
		"diagnosis":       in.Diagnosis,
		"existing_labels": in.Existing,
		"needed":          in.Needed,
	})
	if err != nil {
		return nil, eris.Wrap(err, "genai: marshal extra labels payload")
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.lightModel,
		MaxTokens: 512,
		System:    []anthropic.SystemBlock{{Text: extraLabelsSystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf("Propose exactly %d extra differentials from this JSON:\n%s", in.Needed, payload)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "genai: generate extra labels")
	}
	resp.Usage.LogCost(g.model, "extra_labels")

	var parsed struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &parsed); err != nil {
		return nil, eris.Wrap(err, "genai: parse extra labels response")
	}

	seen := make(map[string]bool, len(in.Existing))
	for _, e := range in.Existing {
		seen[normalizeLabel(e)] = true
	}

	var out []string
	for _, raw := range parsed.Options {
		label := strings.TrimSpace(raw)
		key := normalizeLabel(label)
		if label == "" || seen[key] || isGenericLabel(key) {
			continue
		}
		seen[key] = true
		out = append(out, label)
		if len(out) >= in.Needed {
			break
		}
	}
	return out, nil
}

func isGenericLabel(normalized string) bool {
	for _, frag := range genericLabelFragments {
		if strings.Contains(normalized, frag) {
			return true
		}
	}
	return false
}
