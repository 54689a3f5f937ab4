package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oliviagallego/TesaHealth/internal/artifact"
	"github.com/oliviagallego/TesaHealth/internal/consensus"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/interview"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/store"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

// queueLimit bounds the reviewer queue response.
const queueLimit = 50

// caseResponse is a case as returned to its owning patient. The artifact's
// private part is stripped; the consensus is attached once published.
type caseResponse struct {
	Case      *model.Case       `json:"case"`
	Artifact  *artifactResponse `json:"artifact,omitempty"`
	Consensus *model.Consensus  `json:"consensus,omitempty"`
}

// artifactResponse is an artifact with the private correct option removed.
type artifactResponse struct {
	ID       string                   `json:"id"`
	CaseID   string                   `json:"case_id"`
	Vignette string                   `json:"vignette"`
	Bundle   model.DifferentialBundle `json:"bundle"`
}

func publicArtifact(a *model.Artifact) *artifactResponse {
	if a == nil {
		return nil
	}
	return &artifactResponse{
		ID:       a.ID,
		CaseID:   a.CaseID,
		Vignette: a.Vignette,
		Bundle:   a.PublicBundle(),
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(r, headerPatient); !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}

	q := r.URL.Query()
	phrase := strings.TrimSpace(q.Get("phrase"))
	if phrase == "" {
		writeError(w, fault.New(fault.KindInvalidInput, "server: phrase query parameter is required"))
		return
	}
	age, _ := strconv.Atoi(q.Get("age"))

	results, err := s.symptoms.Search(r.Context(), infermedica.SearchRequest{
		Phrase: phrase,
		Age:    age,
		Sex:    q.Get("sex"),
	})
	if err != nil {
		writeError(w, fault.Wrap(fault.KindExternalCapability, err, "server: symptom search"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleInterviewStart(w http.ResponseWriter, r *http.Request) {
	patientID, ok := identity(r, headerPatient)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}

	var req struct {
		Patient  model.PatientContext `json:"patient"`
		Evidence []model.Finding      `json:"evidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.KindInvalidInput, err, "server: decode body"))
		return
	}

	c, err := s.interviews.Start(r.Context(), patientID, interview.StartInput{
		Patient:  req.Patient,
		Evidence: req.Evidence,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseResponse{Case: c})
}

func (s *Server) handleInterviewAnswer(w http.ResponseWriter, r *http.Request) {
	patientID, ok := identity(r, headerPatient)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}

	var req struct {
		Evidence []model.Finding `json:"evidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.KindInvalidInput, err, "server: decode body"))
		return
	}

	c, err := s.interviews.Answer(r.Context(), patientID, chi.URLParam(r, "caseID"), req.Evidence)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c})
}

func (s *Server) handleInterviewFinish(w http.ResponseWriter, r *http.Request) {
	patientID, ok := identity(r, headerPatient)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}

	a, err := s.interviews.Finish(r.Context(), patientID, chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifact": publicArtifact(a)})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	patientID, ok := identity(r, headerPatient)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}

	cases, err := s.reader.ListCasesByPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	patientID, ok := identity(r, headerPatient)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerPatient+" header"))
		return
	}
	caseID := chi.URLParam(r, "caseID")

	c, err := s.reader.GetCaseForPatient(r.Context(), caseID, patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := s.reader.GetArtifactByCase(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	cons, err := s.reader.GetConsensusByCase(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caseResponse{
		Case:      c,
		Artifact:  publicArtifact(a),
		Consensus: cons,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := identity(r, headerReviewer)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerReviewer+" header"))
		return
	}

	cases, err := s.reader.ListQueue(r.Context(), store.QueueFilter{
		Statuses:        []model.CaseStatus{model.StatusAIReady, model.StatusInReview},
		ExcludeReviewer: reviewerID,
		Limit:           queueLimit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := identity(r, headerReviewer)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerReviewer+" header"))
		return
	}

	var req struct {
		CaseID  string          `json:"case_id"`
		Answer  model.AnswerKey `json:"answer"`
		Urgency model.Urgency   `json:"urgency"`
		Note    string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.KindInvalidInput, err, "server: decode body"))
		return
	}

	review, cons, err := s.engine.SubmitReview(r.Context(), reviewerID, consensus.SubmitInput{
		CaseID:  req.CaseID,
		Answer:  req.Answer,
		Urgency: req.Urgency,
		Note:    req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"review":    review,
		"consensus": cons,
	})
}

func (s *Server) handleOperatorClose(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(r, headerOperator); !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerOperator+" header"))
		return
	}

	caseID := chi.URLParam(r, "caseID")
	cons, err := s.engine.Close(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Attach per-option diagnosis probabilities so the operator sees how the
	// capability's ranking lines up with the reviewers' verdict.
	a, err := s.reader.GetArtifactByCase(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consensus": cons,
		"options":   artifact.InferByOption(a),
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := identity(r, headerReviewer)
	if !ok {
		writeError(w, fault.New(fault.KindInvalidInput, "server: missing "+headerReviewer+" header"))
		return
	}

	totals, entries, err := s.wallet.WalletTotals(r.Context(), reviewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":  totals,
		"entries": entries,
	})
}
