package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oliviagallego/TesaHealth/internal/model"
)

func TestGenerateExtraLabels(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"options": ["Acute sinusitis", "Temporal arteritis", "Cervicogenic headache"]}`), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	labels, err := g.GenerateExtraLabels(context.Background(), ExtraLabelsInput{
		Patient:  model.PatientContext{Age: 34, Sex: "female"},
		Existing: []string{"Migraine", "Tension headache"},
		Needed:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acute sinusitis", "Temporal arteritis"}, labels)
}

func TestGenerateExtraLabels_FiltersDuplicatesAndGeneric(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"options": ["migraine", "Unknown condition", "Non-specific illness", "Temporal arteritis"]}`), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	labels, err := g.GenerateExtraLabels(context.Background(), ExtraLabelsInput{
		Existing: []string{"Migraine"},
		Needed:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Temporal arteritis"}, labels)
}

func TestGenerateExtraLabels_ZeroNeededSkipsCall(t *testing.T) {
	m := new(mockAnthropicClient)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	labels, err := g.GenerateExtraLabels(context.Background(), ExtraLabelsInput{Needed: 0})
	require.NoError(t, err)
	assert.Nil(t, labels)
	m.AssertNotCalled(t, "CreateMessage")
}

func TestGenerateExtraLabels_ErrorSurfaces(t *testing.T) {
	m := new(mockAnthropicClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("api down"))

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001")
	_, err := g.GenerateExtraLabels(context.Background(), ExtraLabelsInput{Needed: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate extra labels")
}
