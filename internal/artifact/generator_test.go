package artifact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/genai"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *mockStore) GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Artifact), args.Error(1)
}

func (m *mockStore) MarkReady(ctx context.Context, caseID string, submittedAt time.Time) error {
	args := m.Called(ctx, caseID, submittedAt)
	return args.Error(0)
}

func (m *mockStore) ReleaseClaim(ctx context.Context, caseID string) error {
	args := m.Called(ctx, caseID)
	return args.Error(0)
}

type mockDiagClient struct {
	mock.Mock
}

func (m *mockDiagClient) Search(ctx context.Context, req infermedica.SearchRequest) ([]infermedica.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]infermedica.SearchResult), args.Error(1)
}

func (m *mockDiagClient) Diagnose(ctx context.Context, req infermedica.DiagnosisRequest) (*infermedica.DiagnosisResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infermedica.DiagnosisResponse), args.Error(1)
}

func (m *mockDiagClient) Triage(ctx context.Context, req infermedica.DiagnosisRequest) (*infermedica.TriageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infermedica.TriageResponse), args.Error(1)
}

type mockTextGen struct {
	mock.Mock
}

func (m *mockTextGen) GenerateQuestion(ctx context.Context, in genai.QuestionInput) (*genai.QuestionDraft, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*genai.QuestionDraft), args.Error(1)
}

func (m *mockTextGen) GenerateExtraLabels(ctx context.Context, in genai.ExtraLabelsInput) ([]string, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func testCase() *model.Case {
	return &model.Case{
		ID:          "case-1",
		PatientID:   "patient-1",
		InterviewID: "iv-1",
		Patient:     model.PatientContext{Age: 34, Sex: "female"},
		Evidence: []model.Finding{
			{ID: "s_21", State: model.FindingPresent},
			{ID: "s_98", State: model.FindingAbsent},
		},
		Status: model.StatusAIGenerating,
	}
}

func draftFor(labels []string) *genai.QuestionDraft {
	opts := make([]model.Option, 0, 5)
	for i, key := range []model.AnswerKey{model.KeyA, model.KeyB, model.KeyC, model.KeyD} {
		opts = append(opts, model.Option{Key: key, Label: labels[i]})
	}
	opts = append(opts, model.Option{Key: model.KeyE, Label: genai.NoneOfTheAboveLabel})
	return &genai.QuestionDraft{
		Public: model.QuestionPublic{
			Language:     "en",
			Vignette:     "A 34-year-old woman presents with chest tightness.",
			LeadIn:       "What is the most likely diagnosis?",
			Options:      opts,
			QuestionText: "A 34-year-old woman presents with chest tightness.\n\nWhat is the most likely diagnosis?",
		},
		Private: model.QuestionPrivate{CorrectOption: model.KeyA, WhyCorrect: "Best fit for the evidence."},
		Meta:    model.QuestionMeta{Focus: "diagnosis", Difficulty: "medium", Topic: "general"},
	}
}

func diagnosisWith(conditions ...infermedica.Condition) *infermedica.DiagnosisResponse {
	return &infermedica.DiagnosisResponse{Conditions: conditions, ShouldStop: true}
}

func TestGenerate_Success(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	c := testCase()
	diag.On("Diagnose", mock.Anything, mock.Anything).Return(diagnosisWith(
		infermedica.Condition{ID: "c_1", Name: "Angina pectoris", CommonName: "Angina", Probability: 0.41},
		infermedica.Condition{ID: "c_2", Name: "Panic attack", Probability: 0.62},
		infermedica.Condition{ID: "c_3", Name: "GERD", Probability: 0.22},
		infermedica.Condition{ID: "c_4", Name: "Costochondritis", Probability: 0.15},
	), nil)
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "consultation"}, nil)

	labels := []string{"Panic attack", "Angina", "GERD", "Costochondritis"}
	gen.On("GenerateQuestion", mock.Anything, mock.MatchedBy(func(in genai.QuestionInput) bool {
		return assert.ObjectsAreEqual(labels, in.OptionLabels)
	})).Return(draftFor(labels), nil)

	st.On("CreateArtifact", mock.Anything, mock.Anything).Return(nil)
	st.On("MarkReady", mock.Anything, "case-1", mock.Anything).Return(nil)

	a, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, "case-1", a.CaseID)
	assert.Len(t, a.Bundle.Public.Options, 5)
	assert.Equal(t, "Panic attack", a.Bundle.Public.Options[0].Label)
	assert.Equal(t, "consultation", a.Bundle.Diagnosis.TriageLevel)
	assert.Equal(t, 0.62, a.Bundle.Diagnosis.Conditions[0].Probability)

	gen.AssertNotCalled(t, "GenerateExtraLabels", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
	diag.AssertExpectations(t)
}

func TestGenerate_FillsMissingLabels(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	c := testCase()
	// Two usable conditions after dedup and denylist filtering.
	diag.On("Diagnose", mock.Anything, mock.Anything).Return(diagnosisWith(
		infermedica.Condition{ID: "c_1", Name: "Migraine", Probability: 0.7},
		infermedica.Condition{ID: "c_1b", Name: "migraine", Probability: 0.5},
		infermedica.Condition{ID: "c_2", Name: "Unknown condition", Probability: 0.4},
		infermedica.Condition{ID: "c_3", Name: "Tension headache", Probability: 0.3},
	), nil)
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "self_care"}, nil)

	gen.On("GenerateExtraLabels", mock.Anything, mock.MatchedBy(func(in genai.ExtraLabelsInput) bool {
		return in.Needed == 2 && len(in.Existing) == 2
	})).Return([]string{"Cluster headache"}, nil)

	want := []string{"Migraine", "Tension headache", "Cluster headache", "Unknown 4"}
	gen.On("GenerateQuestion", mock.Anything, mock.MatchedBy(func(in genai.QuestionInput) bool {
		return assert.ObjectsAreEqual(want, in.OptionLabels)
	})).Return(draftFor(want), nil)

	st.On("CreateArtifact", mock.Anything, mock.Anything).Return(nil)
	st.On("MarkReady", mock.Anything, "case-1", mock.Anything).Return(nil)

	_, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), c)
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

func TestGenerate_DiagnosisFailureReleasesClaim(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	diag.On("Diagnose", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 500"))
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "consultation"}, nil).Maybe()
	st.On("ReleaseClaim", mock.Anything, "case-1").Return(nil)

	a, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), testCase())
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, fault.IsExternalCapability(err))

	st.AssertCalled(t, "ReleaseClaim", mock.Anything, "case-1")
	st.AssertNotCalled(t, "CreateArtifact", mock.Anything, mock.Anything)
}

func TestGenerate_QuestionFailureReleasesClaim(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	diag.On("Diagnose", mock.Anything, mock.Anything).Return(diagnosisWith(
		infermedica.Condition{ID: "c_1", Name: "Migraine", Probability: 0.7},
		infermedica.Condition{ID: "c_2", Name: "Tension headache", Probability: 0.5},
		infermedica.Condition{ID: "c_3", Name: "Cluster headache", Probability: 0.3},
		infermedica.Condition{ID: "c_4", Name: "Sinusitis", Probability: 0.2},
	), nil)
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "self_care"}, nil)
	gen.On("GenerateQuestion", mock.Anything, mock.Anything).Return(nil, errors.New("model refused"))
	st.On("ReleaseClaim", mock.Anything, "case-1").Return(nil)

	_, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), testCase())
	require.Error(t, err)
	assert.True(t, fault.IsExternalCapability(err))
	st.AssertCalled(t, "ReleaseClaim", mock.Anything, "case-1")
}

func TestGenerate_UniqueViolationReturnsExisting(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	labels := []string{"Migraine", "Tension headache", "Cluster headache", "Sinusitis"}
	diag.On("Diagnose", mock.Anything, mock.Anything).Return(diagnosisWith(
		infermedica.Condition{ID: "c_1", Name: labels[0], Probability: 0.7},
		infermedica.Condition{ID: "c_2", Name: labels[1], Probability: 0.5},
		infermedica.Condition{ID: "c_3", Name: labels[2], Probability: 0.3},
		infermedica.Condition{ID: "c_4", Name: labels[3], Probability: 0.2},
	), nil)
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "consultation"}, nil)
	gen.On("GenerateQuestion", mock.Anything, mock.Anything).Return(draftFor(labels), nil)

	st.On("CreateArtifact", mock.Anything, mock.Anything).
		Return(fault.New(fault.KindConstraintViolation, "duplicate artifact"))
	existing := &model.Artifact{ID: "art-0", CaseID: "case-1"}
	st.On("GetArtifactByCase", mock.Anything, "case-1").Return(existing, nil)
	st.On("MarkReady", mock.Anything, "case-1", mock.Anything).Return(nil)

	a, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), testCase())
	require.NoError(t, err)
	assert.Equal(t, "art-0", a.ID)

	st.AssertNotCalled(t, "ReleaseClaim", mock.Anything, mock.Anything)
}

func TestGenerate_UniqueViolationWithoutArtifactReleasesClaim(t *testing.T) {
	st := new(mockStore)
	diag := new(mockDiagClient)
	gen := new(mockTextGen)

	labels := []string{"Migraine", "Tension headache", "Cluster headache", "Sinusitis"}
	diag.On("Diagnose", mock.Anything, mock.Anything).Return(diagnosisWith(
		infermedica.Condition{ID: "c_1", Name: labels[0], Probability: 0.7},
		infermedica.Condition{ID: "c_2", Name: labels[1], Probability: 0.5},
		infermedica.Condition{ID: "c_3", Name: labels[2], Probability: 0.3},
		infermedica.Condition{ID: "c_4", Name: labels[3], Probability: 0.2},
	), nil)
	diag.On("Triage", mock.Anything, mock.Anything).Return(&infermedica.TriageResponse{TriageLevel: "consultation"}, nil)
	gen.On("GenerateQuestion", mock.Anything, mock.Anything).Return(draftFor(labels), nil)

	st.On("CreateArtifact", mock.Anything, mock.Anything).
		Return(fault.New(fault.KindConstraintViolation, "duplicate artifact"))
	st.On("GetArtifactByCase", mock.Anything, "case-1").Return(nil, nil)
	st.On("ReleaseClaim", mock.Anything, "case-1").Return(nil)

	_, err := NewGenerator(st, diag, gen, nil).Generate(context.Background(), testCase())
	require.Error(t, err)
	assert.True(t, fault.IsConstraintViolation(err))
	st.AssertCalled(t, "ReleaseClaim", mock.Anything, "case-1")
	st.AssertNotCalled(t, "MarkReady", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvidenceForDiagnosis_SkipsInvalid(t *testing.T) {
	ev := evidenceForDiagnosis([]model.Finding{
		{ID: "s_1", State: model.FindingPresent},
		{ID: "", State: model.FindingPresent},
		{ID: "s_2", State: "maybe"},
		{ID: "s_3", State: model.FindingUnknown},
	})
	require.Len(t, ev, 2)
	assert.Equal(t, "s_1", ev[0].ID)
	assert.Equal(t, "present", ev[0].ChoiceID)
	assert.Equal(t, "unknown", ev[1].ChoiceID)
}

func TestPickTopLabels(t *testing.T) {
	deny := NewDenylist()
	conditions := []model.RankedCondition{
		{ID: "c_1", Name: "Angina pectoris", CommonName: "Angina", Probability: 0.6},
		{ID: "c_2", Name: "ANGINA", Probability: 0.5},
		{ID: "c_3", Name: "Unknown condition", Probability: 0.4},
		{ID: "c_4", Name: "GERD", Probability: 0.3},
		{ID: "c_5", Name: "Panic attack", Probability: 0.2},
		{ID: "c_6", Name: "Costochondritis", Probability: 0.1},
	}

	got := pickTopLabels(conditions, 4, deny)
	assert.Equal(t, []string{"Angina", "GERD", "Panic attack", "Costochondritis"}, got)
}

func TestPickTopLabels_FallsBackThroughNames(t *testing.T) {
	deny := NewDenylist()
	got := pickTopLabels([]model.RankedCondition{
		{ID: "c_9", Probability: 0.9},
		{ID: "c_8", Name: "Bronchitis", Probability: 0.8},
	}, 4, deny)
	assert.Equal(t, []string{"c_9", "Bronchitis"}, got)
}
