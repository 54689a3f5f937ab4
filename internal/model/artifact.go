package model

import "time"

// AnswerKey identifies one option of the generated question.
type AnswerKey string

const (
	KeyA AnswerKey = "A"
	KeyB AnswerKey = "B"
	KeyC AnswerKey = "C"
	KeyD AnswerKey = "D"
	KeyE AnswerKey = "E"
)

// AnswerKeys lists the closed option alphabet in order.
var AnswerKeys = []AnswerKey{KeyA, KeyB, KeyC, KeyD, KeyE}

// Valid reports whether k is in the closed alphabet.
func (k AnswerKey) Valid() bool {
	for _, v := range AnswerKeys {
		if k == v {
			return true
		}
	}
	return false
}

// NoClearOptionLabel is the sentinel diagnosis label used when the winning
// option is E ("none of the above"). The consensus record always carries a
// non-empty diagnosis label.
const NoClearOptionLabel = "No clear option selected"

// Option is one answer option of the generated question.
type Option struct {
	Key   AnswerKey `json:"key"`
	Label string    `json:"label"`
}

// QuestionPublic is the reviewer-visible part of the generated question.
type QuestionPublic struct {
	Language     string   `json:"language"`
	Vignette     string   `json:"vignette"`
	LeadIn       string   `json:"lead_in"`
	Options      []Option `json:"options"`
	QuestionText string   `json:"question_text"`
}

// QuestionPrivate holds the generator's own answer. Stripped before anything
// is shown to reviewers or patients.
type QuestionPrivate struct {
	CorrectOption AnswerKey `json:"correct_option_id"`
	WhyCorrect    string    `json:"why_correct"`
}

// QuestionMeta carries generation metadata.
type QuestionMeta struct {
	Focus      string `json:"focus"`
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// RankedCondition is one condition with its probability from the diagnosis
// capability.
type RankedCondition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CommonName  string  `json:"common_name,omitempty"`
	Probability float64 `json:"probability"`
}

// DiagnosisSnapshot is the raw diagnosis-capability output captured at
// generation time.
type DiagnosisSnapshot struct {
	Conditions           []RankedCondition `json:"conditions"`
	TriageLevel          string            `json:"triage_level,omitempty"`
	HasEmergencyEvidence bool              `json:"has_emergency_evidence"`
}

// DifferentialBundle is the structured payload of an artifact. It is held as
// typed values in memory and serialized only at the storage boundary.
type DifferentialBundle struct {
	Public     QuestionPublic    `json:"public"`
	Private    QuestionPrivate   `json:"private"`
	Meta       QuestionMeta      `json:"meta"`
	Diagnosis  DiagnosisSnapshot `json:"diagnosis"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	Patient    PatientContext    `json:"patient_context"`
}

// Artifact is the immutable generated diagnostic bundle for one case.
// Exactly one exists per case, enforced by a uniqueness constraint.
type Artifact struct {
	ID     string `json:"id"`
	CaseID string `json:"case_id"`

	Vignette string             `json:"vignette"`
	Bundle   DifferentialBundle `json:"bundle"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// OptionLabel resolves an answer key to its human-readable label. Key E
// resolves to the NoClearOptionLabel sentinel when the stored label is the
// generator's filler.
func (a *Artifact) OptionLabel(key AnswerKey) string {
	for _, o := range a.Bundle.Public.Options {
		if o.Key == key {
			if key == KeyE {
				return NoClearOptionLabel
			}
			return o.Label
		}
	}
	if key == KeyE {
		return NoClearOptionLabel
	}
	return string(key)
}

// PublicBundle returns a copy of the bundle with the private part zeroed,
// for reviewer- and patient-facing responses.
func (a *Artifact) PublicBundle() DifferentialBundle {
	b := a.Bundle
	b.Private = QuestionPrivate{}
	return b
}
