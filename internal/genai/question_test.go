package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oliviagallego/TesaHealth/internal/model"
)

const validQuestionJSON = `{
	"public": {
		"language": "en",
		"vignette": "A 34-year-old woman presents with a three-day history of throbbing unilateral headache, photophobia, and nausea. She reports similar episodes in the past.",
		"lead_in": "Which diagnosis is most likely?",
		"options": [
			{"key": "A", "label": "Migraine"},
			{"key": "B", "label": "Tension headache"},
			{"key": "C", "label": "Cluster headache"},
			{"key": "D", "label": "Subarachnoid hemorrhage"},
			{"key": "E", "label": "None of the above"}
		],
		"question_text": ""
	},
	"private": {"correct_option_id": "A", "why_correct": "Recurrent unilateral throbbing headache with photophobia is classic for migraine."},
	"meta": {"focus": "diagnosis", "difficulty": "medium", "topic": "headache"}
}`

func questionInput() QuestionInput {
	return QuestionInput{
		Patient: model.PatientContext{Age: 34, Sex: "female"},
		Evidence: []model.Finding{
			{ID: "s_21", State: model.FindingPresent, Name: "Headache"},
		},
		Diagnosis: model.DiagnosisSnapshot{
			Conditions: []model.RankedCondition{{ID: "c_54", Name: "Migraine", Probability: 0.71}},
		},
		OptionLabels: []string{"Migraine", "Tension headache", "Cluster headache", "Subarachnoid hemorrhage"},
	}
}

func TestGenerateQuestion(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(validQuestionJSON), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	draft, err := g.GenerateQuestion(context.Background(), questionInput())
	require.NoError(t, err)

	assert.Equal(t, "en", draft.Public.Language)
	assert.Equal(t, model.KeyA, draft.Private.CorrectOption)
	require.Len(t, draft.Public.Options, 5)
	assert.Equal(t, "Migraine", draft.Public.Options[0].Label)
	assert.Equal(t, NoneOfTheAboveLabel, draft.Public.Options[4].Label)
	// question_text is always rebuilt from vignette + lead-in.
	assert.Contains(t, draft.Public.QuestionText, draft.Public.Vignette)
	assert.Contains(t, draft.Public.QuestionText, "Which diagnosis is most likely?")
	m.AssertExpectations(t)
}

func TestGenerateQuestion_StripsEchoedLeadIn(t *testing.T) {
	echoed := `{
		"public": {
			"language": "en",
			"vignette": "A 60-year-old man presents with crushing chest pain radiating to the left arm. Which diagnosis is most likely?",
			"lead_in": "Which diagnosis is most likely?",
			"options": [
				{"key": "A", "label": "Myocardial infarction"},
				{"key": "B", "label": "Pericarditis"},
				{"key": "C", "label": "Aortic dissection"},
				{"key": "D", "label": "Pulmonary embolism"},
				{"key": "E", "label": "None of the above"}
			],
			"question_text": ""
		},
		"private": {"correct_option_id": "A", "why_correct": "Crushing chest pain radiating to the arm is classic for MI."},
		"meta": {"focus": "diagnosis", "difficulty": "easy", "topic": "chest pain"}
	}`

	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(echoed), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	draft, err := g.GenerateQuestion(context.Background(), questionInput())
	require.NoError(t, err)

	assert.Equal(t, "A 60-year-old man presents with crushing chest pain radiating to the left arm.", draft.Public.Vignette)
	assert.Equal(t, 1, strings.Count(draft.Public.QuestionText, "Which diagnosis is most likely?"))
}

func TestGenerateQuestion_DuplicateOptionsFallBackToSupplied(t *testing.T) {
	dup := `{
		"public": {
			"language": "en",
			"vignette": "A 34-year-old woman presents with headache.",
			"lead_in": "Which diagnosis is most likely?",
			"options": [
				{"key": "A", "label": "Migraine"},
				{"key": "B", "label": "migraine"},
				{"key": "C", "label": "Cluster headache"},
				{"key": "D", "label": "Tension headache"},
				{"key": "E", "label": "None of the above"}
			],
			"question_text": ""
		},
		"private": {"correct_option_id": "B", "why_correct": "Recurrent unilateral headache fits migraine best."},
		"meta": {"focus": "diagnosis", "difficulty": "medium", "topic": "headache"}
	}`

	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(dup), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	in := questionInput()
	draft, err := g.GenerateQuestion(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, draft.Public.Options, 5)
	for i, want := range in.OptionLabels {
		assert.Equal(t, want, draft.Public.Options[i].Label)
	}
}

func TestGenerateQuestion_ClientErrorSurfaces(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("api unavailable"))

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	_, err := g.GenerateQuestion(context.Background(), questionInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate question")
}

func TestGenerateQuestion_RejectsCorrectOptionE(t *testing.T) {
	bad := `{
		"public": {
			"language": "en",
			"vignette": "A 34-year-old woman presents with headache.",
			"lead_in": "Which diagnosis is most likely?",
			"options": [
				{"key": "A", "label": "Migraine"},
				{"key": "B", "label": "Tension headache"},
				{"key": "C", "label": "Cluster headache"},
				{"key": "D", "label": "Sinusitis"},
				{"key": "E", "label": "None of the above"}
			],
			"question_text": ""
		},
		"private": {"correct_option_id": "E", "why_correct": "None of the listed options fit well enough."},
		"meta": {"focus": "diagnosis", "difficulty": "medium", "topic": "headache"}
	}`

	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(bad), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	_, err := g.GenerateQuestion(context.Background(), questionInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid correct option")
}

func TestGenerateQuestion_ParsesFencedJSON(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("```json\n"+validQuestionJSON+"\n```"), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	draft, err := g.GenerateQuestion(context.Background(), questionInput())
	require.NoError(t, err)
	assert.Equal(t, model.KeyA, draft.Private.CorrectOption)
}

func TestStripTrailingQuestion(t *testing.T) {
	tests := []struct {
		name     string
		vignette string
		leadIn   string
		want     string
	}{
		{
			name:     "no_trailing_question",
			vignette: "A 30-year-old man presents with fever.",
			leadIn:   "Which diagnosis is most likely?",
			want:     "A 30-year-old man presents with fever.",
		},
		{
			name:     "literal_echo",
			vignette: "A 30-year-old man presents with fever. Which diagnosis is most likely?",
			leadIn:   "Which diagnosis is most likely?",
			want:     "A 30-year-old man presents with fever.",
		},
		{
			name:     "question_like_tail_without_echo",
			vignette: "A 30-year-old man presents with fever. What is the most likely diagnosis?",
			leadIn:   "Pick the best answer.",
			want:     "A 30-year-old man presents with fever.",
		},
		{
			name:     "clinical_question_kept",
			vignette: "A 30-year-old man presents with fever. He asks: can I travel next week?",
			leadIn:   "Which diagnosis is most likely?",
			want:     "A 30-year-old man presents with fever. He asks: can I travel next week?",
		},
		{
			name:     "empty",
			vignette: "",
			leadIn:   "Which diagnosis is most likely?",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripTrailingQuestion(tt.vignette, tt.leadIn))
		})
	}
}
