package model

// FindingState is the reported state of one clinical finding.
type FindingState string

const (
	FindingPresent FindingState = "present"
	FindingAbsent  FindingState = "absent"
	FindingUnknown FindingState = "unknown"
)

// Valid reports whether the state is one of the three allowed values.
func (s FindingState) Valid() bool {
	switch s {
	case FindingPresent, FindingAbsent, FindingUnknown:
		return true
	}
	return false
}

// Finding is one discrete clinical observation. Identity is ID; a case's
// evidence set holds at most one record per ID.
type Finding struct {
	ID    string       `json:"id"`
	State FindingState `json:"state"`
	Name  string       `json:"name,omitempty"`
}

// QuestionItem is one selectable finding inside a pending interview question.
type QuestionItem struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Question types returned by the diagnosis capability. group_single means
// "choose exactly one of these related findings".
const (
	QuestionSingle      = "single"
	QuestionGroupSingle = "group_single"
	QuestionGroupMulti  = "group_multiple"
)

// PendingQuestion is the most recent unanswered interview question on a case.
type PendingQuestion struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Items []QuestionItem `json:"items,omitempty"`
}

// TranscriptEntry records one interview turn: the question that was pending
// and the evidence the patient answered with.
type TranscriptEntry struct {
	At       string           `json:"at"`
	Question *PendingQuestion `json:"question,omitempty"`
	Answer   []Finding        `json:"answer_evidence"`
}
