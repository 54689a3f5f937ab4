package model

import "time"

// VoteCount is the tally for one vote value.
type VoteCount struct {
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// VoteStats aggregates votes over a closed alphabet of values. Percentages
// are rounded to one decimal.
type VoteStats struct {
	Total int                  `json:"total"`
	By    map[string]VoteCount `json:"by"`
}

// TallyVotes counts values over the allowed keys. Values outside the
// alphabet are ignored.
func TallyVotes(values []string, allowed []string) VoteStats {
	counts := make(map[string]int, len(allowed))
	for _, k := range allowed {
		counts[k] = 0
	}
	total := len(values)
	for _, v := range values {
		if _, ok := counts[v]; ok {
			counts[v]++
		}
	}

	by := make(map[string]VoteCount, len(allowed))
	for _, k := range allowed {
		pct := 0.0
		if total > 0 {
			pct = float64(int(float64(counts[k])/float64(total)*1000+0.5)) / 10
		}
		by[k] = VoteCount{Count: counts[k], Pct: pct}
	}
	return VoteStats{Total: total, By: by}
}

// Consensus is the single authoritative verdict for a case. At most one
// exists per case; immutable once created except for closed-at backfill.
type Consensus struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	ArtifactID string `json:"artifact_id"`

	FinalAnswer    AnswerKey `json:"final_answer"`
	FinalDiagnosis string    `json:"final_diagnosis"`
	FinalUrgency   Urgency   `json:"final_urgency"`

	PatientSummary     string `json:"patient_summary,omitempty"`
	PatientExplanation string `json:"patient_explanation,omitempty"`
	ReviewerNotes      string `json:"reviewer_notes,omitempty"`

	TotalReviews int       `json:"total_reviews"`
	AnswerStats  VoteStats `json:"answer_stats"`
	UrgencyStats VoteStats `json:"urgency_stats"`

	ClosedAt time.Time `json:"closed_at"`
}
