package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oliviagallego/TesaHealth/internal/artifact"
	"github.com/oliviagallego/TesaHealth/internal/consensus"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/interview"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/store"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockReader) GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error) {
	args := m.Called(ctx, caseID, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockReader) ListCasesByPatient(ctx context.Context, patientID string) ([]model.Case, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Case), args.Error(1)
}

func (m *mockReader) ListQueue(ctx context.Context, filter store.QueueFilter) ([]model.Case, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Case), args.Error(1)
}

func (m *mockReader) GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Artifact), args.Error(1)
}

func (m *mockReader) GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Consensus), args.Error(1)
}

func (m *mockReader) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockInterviews struct {
	mock.Mock
}

func (m *mockInterviews) Start(ctx context.Context, patientID string, in interview.StartInput) (*model.Case, error) {
	args := m.Called(ctx, patientID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockInterviews) Answer(ctx context.Context, patientID, caseID string, incoming []model.Finding) (*model.Case, error) {
	args := m.Called(ctx, patientID, caseID, incoming)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockInterviews) Finish(ctx context.Context, patientID, caseID string) (*model.Artifact, error) {
	args := m.Called(ctx, patientID, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Artifact), args.Error(1)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) SubmitReview(ctx context.Context, reviewerID string, in consensus.SubmitInput) (*model.Review, *model.Consensus, error) {
	args := m.Called(ctx, reviewerID, in)
	var r *model.Review
	var c *model.Consensus
	if args.Get(0) != nil {
		r = args.Get(0).(*model.Review)
	}
	if args.Get(1) != nil {
		c = args.Get(1).(*model.Consensus)
	}
	return r, c, args.Error(2)
}

func (m *mockEngine) Close(ctx context.Context, caseID string) (*model.Consensus, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Consensus), args.Error(1)
}

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) WalletTotals(ctx context.Context, reviewerID string) (model.WalletTotals, []model.RewardEntry, error) {
	args := m.Called(ctx, reviewerID)
	var entries []model.RewardEntry
	if args.Get(1) != nil {
		entries = args.Get(1).([]model.RewardEntry)
	}
	return args.Get(0).(model.WalletTotals), entries, args.Error(2)
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, req infermedica.SearchRequest) ([]infermedica.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]infermedica.SearchResult), args.Error(1)
}

type fixtures struct {
	reader     *mockReader
	interviews *mockInterviews
	engine     *mockEngine
	wallet     *mockWallet
	symptoms   *mockSearcher
	srv        *httptest.Server
}

func newFixtures(t *testing.T) *fixtures {
	f := &fixtures{
		reader:     new(mockReader),
		interviews: new(mockInterviews),
		engine:     new(mockEngine),
		wallet:     new(mockWallet),
		symptoms:   new(mockSearcher),
	}
	f.srv = httptest.NewServer(New(f.reader, f.interviews, f.engine, f.wallet, f.symptoms).Router())
	t.Cleanup(f.srv.Close)
	return f
}

func doRequest(t *testing.T, method, url string, headers map[string]string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixtures(t)
	f.reader.On("Ping", mock.Anything).Return(nil)

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_Degraded(t *testing.T) {
	f := newFixtures(t)
	f.reader.On("Ping", mock.Anything).Return(fault.New(fault.KindExternalCapability, "db down"))

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestInterviewStart(t *testing.T) {
	f := newFixtures(t)
	f.interviews.On("Start", mock.Anything, "patient-1", mock.MatchedBy(func(in interview.StartInput) bool {
		return len(in.Evidence) == 1 && in.Evidence[0].ID == "s_1" && in.Patient.Age == 30
	})).Return(&model.Case{ID: "case-1", Status: model.StatusInInterview}, nil)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/interview/start",
		map[string]string{headerPatient: "patient-1"},
		map[string]any{
			"patient":  map[string]any{"age": 30, "sex": "male"},
			"evidence": []map[string]any{{"id": "s_1", "state": "present"}},
		})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out caseResponse
	decode(t, resp, &out)
	assert.Equal(t, "case-1", out.Case.ID)
}

func TestInterviewStart_MissingIdentity(t *testing.T) {
	f := newFixtures(t)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/interview/start", nil, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.interviews.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
}

func TestInterviewAnswer_ConflictMapsTo409(t *testing.T) {
	f := newFixtures(t)
	f.interviews.On("Answer", mock.Anything, "patient-1", "case-1", mock.Anything).
		Return(nil, fault.New(fault.KindConflict, "case is ai_ready"))

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/interview/case-1/answer",
		map[string]string{headerPatient: "patient-1"},
		map[string]any{"evidence": []map[string]any{{"id": "s_2", "state": "present"}}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, string(fault.KindConflict), out["kind"])
}

func TestInterviewFinish_StripsPrivateBundle(t *testing.T) {
	f := newFixtures(t)
	a := &model.Artifact{
		ID:     "art-1",
		CaseID: "case-1",
		Bundle: model.DifferentialBundle{
			Private: model.QuestionPrivate{CorrectOption: model.KeyB, WhyCorrect: "secret"},
		},
	}
	f.interviews.On("Finish", mock.Anything, "patient-1", "case-1").Return(a, nil)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/interview/case-1/finish",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Artifact artifactResponse `json:"artifact"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "art-1", out.Artifact.ID)
	assert.Empty(t, out.Artifact.Bundle.Private.CorrectOption)
	assert.Empty(t, out.Artifact.Bundle.Private.WhyCorrect)
}

func TestGetCase_NotFoundMapsTo404(t *testing.T) {
	f := newFixtures(t)
	f.reader.On("GetCaseForPatient", mock.Anything, "case-x", "patient-1").
		Return(nil, fault.New(fault.KindNotFound, "case not found"))

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/cases/case-x",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueue_ExcludesReviewer(t *testing.T) {
	f := newFixtures(t)
	f.reader.On("ListQueue", mock.Anything, mock.MatchedBy(func(filter store.QueueFilter) bool {
		return filter.ExcludeReviewer == "doc-1" && len(filter.Statuses) == 2
	})).Return([]model.Case{{ID: "case-1", Status: model.StatusAIReady}}, nil)

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/queue",
		map[string]string{headerReviewer: "doc-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Cases []model.Case `json:"cases"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Cases, 1)
	assert.Equal(t, "case-1", out.Cases[0].ID)
}

func TestSubmitReview(t *testing.T) {
	f := newFixtures(t)
	f.engine.On("SubmitReview", mock.Anything, "doc-1", consensus.SubmitInput{
		CaseID:  "case-1",
		Answer:  model.KeyA,
		Urgency: model.UrgencySeekNow,
		Note:    "urgent",
	}).Return(&model.Review{ID: "rev-1"}, &model.Consensus{ID: "cons-1", FinalAnswer: model.KeyA}, nil)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/reviews",
		map[string]string{headerReviewer: "doc-1"},
		map[string]any{"case_id": "case-1", "answer": "A", "urgency": "seek_now", "note": "urgent"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Review    *model.Review    `json:"review"`
		Consensus *model.Consensus `json:"consensus"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "rev-1", out.Review.ID)
	require.NotNil(t, out.Consensus)
	assert.Equal(t, model.KeyA, out.Consensus.FinalAnswer)
}

func TestSubmitReview_InvalidAnswerMapsTo400(t *testing.T) {
	f := newFixtures(t)
	f.engine.On("SubmitReview", mock.Anything, "doc-1", mock.Anything).
		Return(nil, nil, fault.New(fault.KindInvalidInput, "bad answer"))

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/reviews",
		map[string]string{headerReviewer: "doc-1"},
		map[string]any{"case_id": "case-1", "answer": "Z", "urgency": "seek_now"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperatorClose(t *testing.T) {
	f := newFixtures(t)
	f.engine.On("Close", mock.Anything, "case-1").
		Return(&model.Consensus{ID: "cons-1", FinalAnswer: model.KeyA}, nil)
	f.reader.On("GetArtifactByCase", mock.Anything, "case-1").Return(&model.Artifact{
		ID:     "art-1",
		CaseID: "case-1",
		Bundle: model.DifferentialBundle{
			Public: model.QuestionPublic{Options: []model.Option{
				{Key: model.KeyA, Label: "Migraine"},
				{Key: model.KeyB, Label: "Cluster headache"},
			}},
			Diagnosis: model.DiagnosisSnapshot{Conditions: []model.RankedCondition{
				{ID: "c_54", Name: "Migraine", Probability: 0.64},
			}},
		},
	}, nil)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/cases/case-1/consensus",
		map[string]string{headerOperator: "ops"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Consensus model.Consensus            `json:"consensus"`
		Options   []artifact.OptionInference `json:"options"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "cons-1", out.Consensus.ID)
	require.Len(t, out.Options, 2)
	assert.Equal(t, "diagnosis", out.Options[0].Source)
	require.NotNil(t, out.Options[0].Probability)
	assert.InDelta(t, 0.64, *out.Options[0].Probability, 1e-9)
	assert.Equal(t, "generated", out.Options[1].Source)
	assert.Nil(t, out.Options[1].Probability)
}

func TestOperatorClose_TieMapsTo409(t *testing.T) {
	f := newFixtures(t)
	f.engine.On("Close", mock.Anything, "case-1").
		Return(nil, fault.Wrap(fault.KindConflict, consensus.ErrTie, "manual intervention required"))

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/cases/case-1/consensus",
		map[string]string{headerOperator: "ops"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOperatorClose_MissingHeader(t *testing.T) {
	f := newFixtures(t)

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/cases/case-1/consensus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.engine.AssertNotCalled(t, "Close", mock.Anything, mock.Anything)
}

func TestWallet(t *testing.T) {
	f := newFixtures(t)
	f.wallet.On("WalletTotals", mock.Anything, "doc-1").Return(
		model.WalletTotals{TotalCents: 3000, PendingCents: 2000, PaidCents: 1000},
		[]model.RewardEntry{{ID: "rw-1", AmountCents: 1000}},
		nil,
	)

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/wallet",
		map[string]string{headerReviewer: "doc-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Totals  model.WalletTotals  `json:"totals"`
		Entries []model.RewardEntry `json:"entries"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 3000, out.Totals.TotalCents)
	require.Len(t, out.Entries, 1)
}

func TestSearch(t *testing.T) {
	f := newFixtures(t)
	f.symptoms.On("Search", mock.Anything, infermedica.SearchRequest{
		Phrase: "headache", Age: 34, Sex: "female",
	}).Return([]infermedica.SearchResult{{ID: "s_21", Label: "Headache"}}, nil)

	resp := doRequest(t, http.MethodGet,
		f.srv.URL+"/search?phrase=headache&age=34&sex=female",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []infermedica.SearchResult `json:"results"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "s_21", out.Results[0].ID)
}

func TestSearch_MissingPhrase(t *testing.T) {
	f := newFixtures(t)

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/search?phrase=%20",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.symptoms.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearch_MissingIdentity(t *testing.T) {
	f := newFixtures(t)

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/search?phrase=headache", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.symptoms.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearch_CapabilityErrorMapsTo502(t *testing.T) {
	f := newFixtures(t)
	f.symptoms.On("Search", mock.Anything, mock.Anything).
		Return(nil, fault.New(fault.KindExternalCapability, "search timed out"))

	resp := doRequest(t, http.MethodGet, f.srv.URL+"/search?phrase=headache",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestExternalCapabilityMapsTo502(t *testing.T) {
	f := newFixtures(t)
	f.interviews.On("Finish", mock.Anything, "patient-1", "case-1").
		Return(nil, fault.New(fault.KindExternalCapability, "diagnosis timed out"))

	resp := doRequest(t, http.MethodPost, f.srv.URL+"/interview/case-1/finish",
		map[string]string{headerPatient: "patient-1"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
