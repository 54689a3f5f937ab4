package genai

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
)

const summarySystemPrompt = `You are a clinician writing a patient-friendly explanation.
Write in simple English for low health literacy.
Do NOT prescribe drugs or give dosing.
Goal:
- short summary of the likely diagnosis
- urgency explained in plain language
- 3-6 next steps (actionable)
- explain what the diagnosis means in simple terms
Use only the provided data. Respond with a strict JSON object:
{"summary": "...", "urgency_text": "...", "next_steps": ["..."], "explanation_simple": "..."}`

// SummaryInput carries the consensus outcome for patient-summary generation.
type SummaryInput struct {
	Patient        model.PatientContext
	DiagnosisLabel string
	Urgency        model.Urgency
	ClinicianNotes []string
	Diagnosis      model.DiagnosisSnapshot
}

// PatientSummary is a lay explanation of the consensus outcome.
type PatientSummary struct {
	Summary           string   `json:"summary"`
	UrgencyText       string   `json:"urgency_text"`
	NextSteps         []string `json:"next_steps"`
	ExplanationSimple string   `json:"explanation_simple"`
}

// GeneratePatientSummary produces a lay summary of the consensus outcome.
// It never returns an error: any generation failure falls back to a
// deterministic local summary so consensus publication is not blocked.
func (g *Generator) GeneratePatientSummary(ctx context.Context, in SummaryInput) *PatientSummary {
	payload, err := json.Marshal(map[string]any{
		"patient_context":       in.Patient,
		"final_diagnosis_label": in.DiagnosisLabel,
		"final_urgency":         string(in.Urgency),
		"clinician_notes":       in.ClinicianNotes,
		"diagnosis":             in.Diagnosis,
	})
	if err != nil {
		zap.L().Warn("genai: marshal summary payload failed", zap.Error(err))
		return fallbackSummary(in)
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.lightModel,
		MaxTokens: 1024,
		System:    []anthropic.SystemBlock{{Text: summarySystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: "Create a patient-friendly result from:\n" + string(payload)},
		},
	})
	if err != nil {
		zap.L().Warn("genai: patient summary generation failed", zap.Error(err))
		return fallbackSummary(in)
	}
	resp.Usage.LogCost(g.model, "patient_summary")

	var out PatientSummary
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &out); err != nil {
		zap.L().Warn("genai: patient summary parse failed", zap.Error(err))
		return fallbackSummary(in)
	}
	if out.Summary == "" || out.ExplanationSimple == "" {
		return fallbackSummary(in)
	}
	return &out
}

func fallbackSummary(in SummaryInput) *PatientSummary {
	label := in.DiagnosisLabel
	if label == "" {
		label = "unclear"
	}
	return &PatientSummary{
		Summary:     fmt.Sprintf("After clinician review, the most likely explanation is: %s.\nUrgency: %s.", label, in.Urgency),
		UrgencyText: fmt.Sprintf("Urgency level: %s.", in.Urgency),
		NextSteps: []string{
			"Monitor symptoms",
			"Seek care if worsening",
			"Follow local medical guidance",
		},
		ExplanationSimple: fmt.Sprintf("This is an educational orientation, not a diagnosis. %s is explained in simple terms: it refers to a common clinical pattern that may fit your symptoms.", label),
	}
}
