package model

import "time"

// Urgency is the declared care urgency on a fixed ordinal severity scale.
type Urgency string

const (
	UrgencySelfCare    Urgency = "self_care"
	UrgencyWithin72h   Urgency = "within_72h"
	UrgencyWithin24h   Urgency = "within_24_48h"
	UrgencySeekNow     Urgency = "seek_now"
	DefaultUrgency             = UrgencyWithin72h
)

// urgencyRank orders urgencies by severity; higher rank is more severe.
var urgencyRank = map[Urgency]int{
	UrgencySelfCare:  0,
	UrgencyWithin72h: 1,
	UrgencyWithin24h: 2,
	UrgencySeekNow:   3,
}

// Valid reports whether u is in the closed urgency enum.
func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// MaxUrgency returns the highest-severity urgency among the given values.
// Unknown values are ignored; ok is false when none are valid. The final
// urgency of a consensus is a maximum, not a majority: patient safety errs
// toward caution.
func MaxUrgency(values []Urgency) (Urgency, bool) {
	best, found := UrgencySelfCare, false
	for _, v := range values {
		r, ok := urgencyRank[v]
		if !ok {
			continue
		}
		if !found || r > urgencyRank[best] {
			best, found = v, true
		}
	}
	return best, found
}

// Review is one reviewer's verdict on a case. Immutable once created; at
// most one exists per (case, reviewer) pair.
type Review struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	ArtifactID string `json:"artifact_id"`
	ReviewerID string `json:"reviewer_id"`

	Answer  AnswerKey `json:"answer"`
	Urgency Urgency   `json:"urgency"`
	Note    string    `json:"note,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}
