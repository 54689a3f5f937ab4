// Package interview drives the automated intake loop: opening a case,
// merging each answered turn into the evidence set, and handing the finished
// case to artifact generation through the claim protocol.
package interview

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/evidence"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/notify"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

// Store is the slice of persistence the interview flow needs.
type Store interface {
	CreateCase(ctx context.Context, c *model.Case) error
	GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error)
	UpdateInterview(ctx context.Context, caseID string, evidence []model.Finding, transcript []model.TranscriptEntry, lastQ *model.PendingQuestion) error
	ClaimForGeneration(ctx context.Context, caseID string) (bool, error)
	GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error)
}

// ArtifactGenerator builds the diagnostic artifact for a claimed case.
// Satisfied by artifact.Generator.
type ArtifactGenerator interface {
	Generate(ctx context.Context, c *model.Case) (*model.Artifact, error)
}

// Service runs patient interviews.
type Service struct {
	store  Store
	diag   infermedica.Client
	gen    ArtifactGenerator
	events notify.Sink
}

// NewService creates an interview Service. events may be nil.
func NewService(st Store, diag infermedica.Client, gen ArtifactGenerator, events notify.Sink) *Service {
	if events == nil {
		events = notify.NopSink{}
	}
	return &Service{store: st, diag: diag, gen: gen, events: events}
}

// StartInput opens a new case.
type StartInput struct {
	Patient  model.PatientContext
	Evidence []model.Finding
}

// diagnosisRequest builds the capability request for a case's current
// evidence.
func diagnosisRequest(c *model.Case) infermedica.DiagnosisRequest {
	ev := make([]infermedica.Evidence, 0, len(c.Evidence))
	for _, f := range c.Evidence {
		ev = append(ev, infermedica.Evidence{ID: f.ID, ChoiceID: string(f.State)})
	}
	return infermedica.DiagnosisRequest{
		Sex:         c.Patient.Sex,
		Age:         infermedica.Age{Value: c.Patient.Age},
		Evidence:    ev,
		InterviewID: c.InterviewID,
	}
}

// pendingQuestion converts the capability's next question. A stopped
// interview has no pending question.
func pendingQuestion(resp *infermedica.DiagnosisResponse) *model.PendingQuestion {
	if resp.ShouldStop || resp.Question == nil {
		return nil
	}
	items := make([]model.QuestionItem, 0, len(resp.Question.Items))
	for _, it := range resp.Question.Items {
		items = append(items, model.QuestionItem{ID: it.ID, Name: it.Name})
	}
	return &model.PendingQuestion{
		Type:  resp.Question.Type,
		Text:  resp.Question.Text,
		Items: items,
	}
}

// Start opens a case in in_interview with the normalized initial evidence and
// the capability's first question.
func (s *Service) Start(ctx context.Context, patientID string, in StartInput) (*model.Case, error) {
	norm := evidence.Normalize(in.Evidence)
	if len(norm) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "interview: evidence must not be empty")
	}

	c := &model.Case{
		PatientID:   patientID,
		InterviewID: uuid.New().String(),
		Patient:     in.Patient,
		Evidence:    evidence.Merge(nil, norm),
		Status:      model.StatusInInterview,
	}

	resp, err := s.diag.Diagnose(ctx, diagnosisRequest(c))
	if err != nil {
		return nil, fault.Wrap(fault.KindExternalCapability, err, "interview: initial diagnosis")
	}
	c.LastQ = pendingQuestion(resp)

	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}

	zap.L().Info("interview started",
		zap.String("case_id", c.ID),
		zap.String("patient_id", patientID),
		zap.Int("evidence", len(c.Evidence)),
	)
	return c, nil
}

// Answer merges one answered turn into the case and advances the interview.
func (s *Service) Answer(ctx context.Context, patientID, caseID string, incoming []model.Finding) (*model.Case, error) {
	c, err := s.store.GetCaseForPatient(ctx, caseID, patientID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusInInterview {
		return nil, fault.Newf(fault.KindConflict, "interview: case %s is %s, not in_interview", caseID, c.Status)
	}

	norm := evidence.Normalize(incoming)
	if len(norm) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "interview: evidence must not be empty")
	}

	merged := evidence.Merge(c.Evidence, norm)
	merged = evidence.PruneExclusiveGroup(merged, c.LastQ, norm)

	transcript := model.AppendTranscript(c.Transcript, model.TranscriptEntry{
		At:       time.Now().UTC().Format(time.RFC3339),
		Question: c.LastQ,
		Answer:   norm,
	})

	c.Evidence = merged
	resp, err := s.diag.Diagnose(ctx, diagnosisRequest(c))
	if err != nil {
		return nil, fault.Wrap(fault.KindExternalCapability, err, "interview: diagnosis")
	}
	lastQ := pendingQuestion(resp)

	if err := s.store.UpdateInterview(ctx, caseID, merged, transcript, lastQ); err != nil {
		return nil, err
	}

	c.Transcript = transcript
	c.LastQ = lastQ
	return c, nil
}

// Finish ends the interview and produces the diagnostic artifact. Exactly one
// concurrent caller wins the generation claim; losers either return the
// artifact the winner produced or report that generation is in progress.
// Calling Finish on a case that already has an artifact returns it unchanged.
func (s *Service) Finish(ctx context.Context, patientID, caseID string) (*model.Artifact, error) {
	c, err := s.store.GetCaseForPatient(ctx, caseID, patientID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.GetArtifactByCase(ctx, caseID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if c.Status != model.StatusInInterview {
		return nil, fault.Newf(fault.KindConflict, "interview: case %s is %s, generation not possible", caseID, c.Status)
	}

	won, err := s.store.ClaimForGeneration(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent caller holds the claim. Re-read in case it already
		// finished.
		existing, err := s.store.GetArtifactByCase(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return nil, fault.Newf(fault.KindConflict, "interview: generation already in progress for case %s", caseID)
	}

	a, err := s.gen.Generate(ctx, c)
	if err != nil {
		return nil, err
	}

	notify.ArtifactReady(ctx, s.events, caseID, a.ID)
	zap.L().Info("interview finished",
		zap.String("case_id", caseID),
		zap.String("artifact_id", a.ID),
	)
	return a, nil
}
