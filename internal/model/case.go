package model

import "time"

// CaseStatus is the lifecycle state of a case. Transitions only move forward:
// in_interview → ai_generating → ai_ready → in_review → consensus_ready → closed.
type CaseStatus string

const (
	StatusInInterview    CaseStatus = "in_interview"
	StatusAIGenerating   CaseStatus = "ai_generating"
	StatusAIReady        CaseStatus = "ai_ready"
	StatusInReview       CaseStatus = "in_review"
	StatusConsensusReady CaseStatus = "consensus_ready"
	StatusClosed         CaseStatus = "closed"

	// legacyAIPending is an old name for the claim state still present in
	// rows written by earlier deployments. Normalized on read.
	legacyAIPending CaseStatus = "ai_pending"
)

// NormalizeStatus maps legacy status spellings to their current equivalent.
func NormalizeStatus(s CaseStatus) CaseStatus {
	if s == legacyAIPending {
		return StatusAIGenerating
	}
	return s
}

// Reviewable reports whether a case can still accept reviews.
func (s CaseStatus) Reviewable() bool {
	return s == StatusAIReady || s == StatusInReview
}

// Terminal reports whether no further reviewer input is accepted.
func (s CaseStatus) Terminal() bool {
	return s == StatusConsensusReady || s == StatusClosed
}

// PatientContext is the demographic and history snapshot captured when the
// case is opened. The diagnosis capability needs sex and age; the rest feeds
// generated questions and summaries.
type PatientContext struct {
	Age              int    `json:"age"`
	Sex              string `json:"sex"`
	Pregnant         *bool  `json:"pregnant,omitempty"`
	Smoking          *bool  `json:"smoking,omitempty"`
	HighBloodPress   *bool  `json:"high_blood_pressure,omitempty"`
	Diabetes         *bool  `json:"diabetes,omitempty"`
	ChronicCondition string `json:"chronic_condition,omitempty"`
	Allergies        string `json:"allergies,omitempty"`
	Medications      string `json:"medications,omitempty"`
}

// Case is one patient encounter moving through the diagnostic pipeline.
type Case struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	InterviewID string `json:"interview_id"`

	Patient    PatientContext    `json:"patient"`
	Evidence   []Finding         `json:"evidence"`
	LastQ      *PendingQuestion  `json:"last_question,omitempty"`
	Transcript []TranscriptEntry `json:"transcript"`

	Status CaseStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// maxTranscriptEntries bounds the stored interview transcript.
const maxTranscriptEntries = 50

// AppendTranscript returns the transcript with one more entry, keeping only
// the most recent entries.
func AppendTranscript(log []TranscriptEntry, e TranscriptEntry) []TranscriptEntry {
	log = append(log, e)
	if len(log) > maxTranscriptEntries {
		log = log[len(log)-maxTranscriptEntries:]
	}
	return log
}
