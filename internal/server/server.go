// Package server exposes the case lifecycle over HTTP. The transport layer is
// deliberately thin: every handler validates identity, decodes JSON, calls
// one service operation, and maps faults onto status codes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/consensus"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/interview"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/store"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

// Identity headers. Authentication proper is handled upstream; these carry
// the already-authenticated principal.
const (
	headerPatient  = "X-Patient-ID"
	headerReviewer = "X-Reviewer-ID"
	headerOperator = "X-Operator"
)

// InterviewService runs the patient intake flow.
type InterviewService interface {
	Start(ctx context.Context, patientID string, in interview.StartInput) (*model.Case, error)
	Answer(ctx context.Context, patientID, caseID string, incoming []model.Finding) (*model.Case, error)
	Finish(ctx context.Context, patientID, caseID string) (*model.Artifact, error)
}

// ConsensusService records reviews and closes cases.
type ConsensusService interface {
	SubmitReview(ctx context.Context, reviewerID string, in consensus.SubmitInput) (*model.Review, *model.Consensus, error)
	Close(ctx context.Context, caseID string) (*model.Consensus, error)
}

// WalletService answers reviewer ledger queries.
type WalletService interface {
	WalletTotals(ctx context.Context, reviewerID string) (model.WalletTotals, []model.RewardEntry, error)
}

// SymptomSearcher looks up symptom concepts for intake autocomplete.
// Satisfied by infermedica.Client.
type SymptomSearcher interface {
	Search(ctx context.Context, req infermedica.SearchRequest) ([]infermedica.SearchResult, error)
}

// CaseReader is the read-only slice of persistence the handlers need.
type CaseReader interface {
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error)
	ListCasesByPatient(ctx context.Context, patientID string) ([]model.Case, error)
	ListQueue(ctx context.Context, filter store.QueueFilter) ([]model.Case, error)
	GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error)
	GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error)
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	reader     CaseReader
	interviews InterviewService
	engine     ConsensusService
	wallet     WalletService
	symptoms   SymptomSearcher
}

// New creates a Server.
func New(reader CaseReader, interviews InterviewService, engine ConsensusService, wallet WalletService, symptoms SymptomSearcher) *Server {
	return &Server{reader: reader, interviews: interviews, engine: engine, wallet: wallet, symptoms: symptoms}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerPatient, headerReviewer, headerOperator},
	}))

	r.Get("/health", s.handleHealth)

	r.Get("/search", s.handleSearch)
	r.Post("/interview/start", s.handleInterviewStart)
	r.Post("/interview/{caseID}/answer", s.handleInterviewAnswer)
	r.Post("/interview/{caseID}/finish", s.handleInterviewFinish)

	r.Get("/cases", s.handleListCases)
	r.Get("/cases/{caseID}", s.handleGetCase)
	r.Post("/cases/{caseID}/consensus", s.handleOperatorClose)

	r.Get("/queue", s.handleQueue)
	r.Post("/reviews", s.handleSubmitReview)
	r.Get("/wallet", s.handleWallet)

	return r
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps a fault onto its HTTP status with a JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	if status >= 500 {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(fault.KindOf(err)),
	})
}

// identity extracts a required identity header.
func identity(r *http.Request, header string) (string, bool) {
	v := r.Header.Get(header)
	return v, v != ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.reader.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
