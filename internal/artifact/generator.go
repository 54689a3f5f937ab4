// Package artifact turns a finished interview into the immutable diagnostic
// bundle reviewers vote on: ranked differentials from the diagnosis
// capability, a generated single-best-answer question, and the patient
// snapshot frozen at generation time.
package artifact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/genai"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

// optionCount is the number of real (non-sentinel) answer options.
const optionCount = 4

// Store is the slice of persistence the generator needs.
type Store interface {
	CreateArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error)
	MarkReady(ctx context.Context, caseID string, submittedAt time.Time) error
	ReleaseClaim(ctx context.Context, caseID string) error
}

// TextGenerator produces the question and any filler labels. Satisfied by
// genai.Generator.
type TextGenerator interface {
	GenerateQuestion(ctx context.Context, in genai.QuestionInput) (*genai.QuestionDraft, error)
	GenerateExtraLabels(ctx context.Context, in genai.ExtraLabelsInput) ([]string, error)
}

// Generator produces the diagnostic artifact for a claimed case.
type Generator struct {
	store    Store
	diag     infermedica.Client
	genAI    TextGenerator
	denylist *Denylist
}

// NewGenerator creates an artifact Generator. denylist may be nil, in which
// case the built-in denylist is used.
func NewGenerator(st Store, diag infermedica.Client, g TextGenerator, denylist *Denylist) *Generator {
	if denylist == nil {
		denylist = NewDenylist()
	}
	return &Generator{store: st, diag: diag, genAI: g, denylist: denylist}
}

// evidenceForDiagnosis converts stored findings into the diagnosis
// capability's wire shape.
func evidenceForDiagnosis(findings []model.Finding) []infermedica.Evidence {
	out := make([]infermedica.Evidence, 0, len(findings))
	for _, f := range findings {
		if f.ID == "" || !f.State.Valid() {
			continue
		}
		out = append(out, infermedica.Evidence{ID: f.ID, ChoiceID: string(f.State)})
	}
	return out
}

// pickTopLabels selects up to n distinct condition labels in probability
// order, deduplicating by normalized text and skipping denylisted labels.
func pickTopLabels(conditions []model.RankedCondition, n int, deny *Denylist) []string {
	out := make([]string, 0, n)
	seen := make(map[string]bool, n)

	for _, c := range conditions {
		label := conditionLabel(c)
		key := normalizeLabel(label)
		if key == "" || seen[key] || deny.Blocks(label) {
			continue
		}
		seen[key] = true
		out = append(out, label)
		if len(out) >= n {
			break
		}
	}
	return out
}

// Generate builds and persists the artifact for a case whose generation claim
// the caller has already won. On any capability failure the claim is released
// so the case returns to in_interview and the caller may retry.
func (g *Generator) Generate(ctx context.Context, c *model.Case) (*model.Artifact, error) {
	ev := evidenceForDiagnosis(c.Evidence)
	req := infermedica.DiagnosisRequest{
		Sex:         c.Patient.Sex,
		Age:         infermedica.Age{Value: c.Patient.Age},
		Evidence:    ev,
		InterviewID: c.InterviewID,
	}

	var diag *infermedica.DiagnosisResponse
	var tri *infermedica.TriageResponse

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		diag, err = g.diag.Diagnose(egCtx, req)
		return fault.Wrap(fault.KindExternalCapability, err, "artifact: diagnosis")
	})
	eg.Go(func() error {
		var err error
		tri, err = g.diag.Triage(egCtx, req)
		return fault.Wrap(fault.KindExternalCapability, err, "artifact: triage")
	})
	if err := eg.Wait(); err != nil {
		return nil, g.fail(ctx, c.ID, err)
	}

	conditions := make([]model.RankedCondition, 0, len(diag.Conditions))
	for _, cond := range diag.Conditions {
		conditions = append(conditions, model.RankedCondition{
			ID:          cond.ID,
			Name:        cond.Name,
			CommonName:  cond.CommonName,
			Probability: cond.Probability,
		})
	}
	sort.SliceStable(conditions, func(i, j int) bool {
		return conditions[i].Probability > conditions[j].Probability
	})

	snapshot := model.DiagnosisSnapshot{
		Conditions:           conditions,
		TriageLevel:          tri.TriageLevel,
		HasEmergencyEvidence: diag.HasEmergencyEvidence,
	}

	labels := pickTopLabels(conditions, optionCount, g.denylist)

	if missing := optionCount - len(labels); missing > 0 {
		extra, err := g.genAI.GenerateExtraLabels(ctx, genai.ExtraLabelsInput{
			Patient:   c.Patient,
			Evidence:  c.Evidence,
			Diagnosis: snapshot,
			Existing:  labels,
			Needed:    missing,
		})
		if err != nil {
			return nil, g.fail(ctx, c.ID, fault.Wrap(fault.KindExternalCapability, err, "artifact: extra labels"))
		}
		for _, e := range extra {
			if !g.denylist.Blocks(e) {
				labels = append(labels, e)
			}
		}
		if len(labels) > optionCount {
			labels = labels[:optionCount]
		}
	}

	for len(labels) < optionCount {
		labels = append(labels, fmt.Sprintf("Unknown %d", len(labels)+1))
	}

	draft, err := g.genAI.GenerateQuestion(ctx, genai.QuestionInput{
		Patient:      c.Patient,
		Evidence:     c.Evidence,
		Diagnosis:    snapshot,
		Transcript:   c.Transcript,
		OptionLabels: labels,
	})
	if err != nil {
		return nil, g.fail(ctx, c.ID, fault.Wrap(fault.KindExternalCapability, err, "artifact: generate question"))
	}

	a := &model.Artifact{
		CaseID:   c.ID,
		Vignette: draft.Public.QuestionText,
		Bundle: model.DifferentialBundle{
			Public:     draft.Public,
			Private:    draft.Private,
			Meta:       draft.Meta,
			Diagnosis:  snapshot,
			Transcript: c.Transcript,
			Patient:    c.Patient,
		},
	}

	if err := g.store.CreateArtifact(ctx, a); err != nil {
		if fault.IsConstraintViolation(err) {
			return g.recoverExisting(ctx, c.ID, err)
		}
		return nil, g.fail(ctx, c.ID, err)
	}

	if err := g.store.MarkReady(ctx, c.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	zap.L().Info("artifact generated",
		zap.String("case_id", c.ID),
		zap.String("artifact_id", a.ID),
		zap.String("triage_level", snapshot.TriageLevel),
		zap.Int("conditions", len(conditions)),
	)
	return a, nil
}

// recoverExisting handles the path where a concurrent winner already
// persisted an artifact: return theirs and move the case forward.
// Only when no artifact exists does the case roll back to in_interview.
func (g *Generator) recoverExisting(ctx context.Context, caseID string, cause error) (*model.Artifact, error) {
	existing, err := g.store.GetArtifactByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		zap.L().Warn("artifact already exists, returning concurrent winner",
			zap.String("case_id", caseID),
			zap.String("artifact_id", existing.ID),
		)
		if err := g.store.MarkReady(ctx, caseID, time.Now().UTC()); err != nil {
			return nil, err
		}
		return existing, nil
	}
	return nil, g.fail(ctx, caseID, cause)
}

// fail releases the generation claim so the case becomes retryable, then
// returns the original error.
func (g *Generator) fail(ctx context.Context, caseID string, cause error) error {
	if err := g.store.ReleaseClaim(ctx, caseID); err != nil {
		zap.L().Error("failed to release generation claim",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
	}
	return cause
}
