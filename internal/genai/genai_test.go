package genai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
)

func modelIs(want string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == want
	})
}

func TestModelRouting_QuestionUsesStrongModel(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, modelIs("strong-model")).
		Return(textResponse(validQuestionJSON), nil)

	g := NewGenerator(m, "strong-model", "light-model")
	_, err := g.GenerateQuestion(context.Background(), questionInput())
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestModelRouting_LabelsAndSummaryUseLightModel(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, modelIs("light-model")).
		Return(textResponse(`{"options": ["Temporal arteritis"]}`), nil).Once()
	m.On("CreateMessage", mock.Anything, modelIs("light-model")).
		Return(textResponse(`{
			"summary": "The clinicians agreed on migraine.",
			"urgency_text": "See a doctor within three days.",
			"next_steps": ["Rest"],
			"explanation_simple": "A migraine is a strong recurring headache."
		}`), nil).Once()

	g := NewGenerator(m, "strong-model", "light-model")

	labels, err := g.GenerateExtraLabels(context.Background(), ExtraLabelsInput{Needed: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Temporal arteritis"}, labels)

	out := g.GeneratePatientSummary(context.Background(), SummaryInput{
		DiagnosisLabel: "Migraine",
		Urgency:        model.UrgencyWithin72h,
	})
	require.NotNil(t, out)
	m.AssertExpectations(t)
}

func TestNewGenerator_EmptyLightModelFallsBack(t *testing.T) {
	g := NewGenerator(new(mockAnthropicClient), "strong-model", "")
	assert.Equal(t, "strong-model", g.lightModel)
}
