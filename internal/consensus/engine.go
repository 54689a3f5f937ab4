// Package consensus aggregates independent reviewer verdicts into one final
// answer and urgency per case, and publishes the verdict exactly once.
package consensus

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/genai"
	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/notify"
	"github.com/oliviagallego/TesaHealth/internal/reward"
)

// Policy names a tie-handling strategy for closing a case.
type Policy string

const (
	// PolicyMajorityFallback closes on a plain majority and resolves ties
	// to the "no clear option" sentinel. Used by the automatic close that
	// runs after each review submission.
	PolicyMajorityFallback Policy = "majority_fallback"
	// PolicyStrictSupermajority additionally requires the winning share to
	// meet the supermajority threshold and refuses to close on a tie.
	// Used by the operator-invoked close.
	PolicyStrictSupermajority Policy = "strict_supermajority"
)

// Defaults for the closing rules.
const (
	DefaultMinReviews             = 3
	DefaultSupermajorityThreshold = 0.8

	// maxReviewerNotes bounds how many free-text rationales feed the
	// patient summary.
	maxReviewerNotes = 3
)

// ErrTie marks a vote with no strictly highest option. Surfaced only by the
// strict policy; the fallback policy resolves it to the sentinel answer.
var ErrTie = errors.New("consensus: tied vote, no strict majority")

// Store is the slice of persistence the engine needs.
type Store interface {
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error)
	CreateReview(ctx context.Context, r *model.Review) error
	ListReviewsByCase(ctx context.Context, caseID string) ([]model.Review, error)
	GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error)
	CloseConsensus(ctx context.Context, cons *model.Consensus, finalStatus model.CaseStatus, bonuses []model.RewardEntry) error
	MarkInReview(ctx context.Context, caseID string) error
	MarkConsensusReady(ctx context.Context, caseID string, closedAt time.Time) error
	MarkClosed(ctx context.Context, caseID string, closedAt time.Time) error
}

// Summarizer produces the patient-facing verdict text. Satisfied by
// genai.Generator; implementations never fail, they fall back to
// deterministic text.
type Summarizer interface {
	GeneratePatientSummary(ctx context.Context, in genai.SummaryInput) *genai.PatientSummary
}

// Engine closes cases once reviews reach quorum.
type Engine struct {
	store      Store
	summarizer Summarizer
	ledger     *reward.Ledger
	events     notify.Sink

	minReviews int
	threshold  float64
}

// NewEngine creates a consensus Engine. Zero minReviews and threshold fall
// back to the defaults; events may be nil.
func NewEngine(st Store, summarizer Summarizer, ledger *reward.Ledger, events notify.Sink, minReviews int, threshold float64) *Engine {
	if minReviews <= 0 {
		minReviews = DefaultMinReviews
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSupermajorityThreshold
	}
	if events == nil {
		events = notify.NopSink{}
	}
	return &Engine{
		store:      st,
		summarizer: summarizer,
		ledger:     ledger,
		events:     events,
		minReviews: minReviews,
		threshold:  threshold,
	}
}

// SubmitInput is one reviewer verdict.
type SubmitInput struct {
	CaseID  string
	Answer  model.AnswerKey
	Urgency model.Urgency
	Note    string
}

// SubmitReview records one reviewer verdict and runs the automatic close
// check. The returned consensus is non-nil only when this submission closed
// the case. A close failure after the review was durably recorded is logged,
// not surfaced: the next submission or an operator close retries it.
func (e *Engine) SubmitReview(ctx context.Context, reviewerID string, in SubmitInput) (*model.Review, *model.Consensus, error) {
	if !in.Answer.Valid() {
		return nil, nil, fault.Newf(fault.KindInvalidInput, "consensus: answer %q outside the option alphabet", in.Answer)
	}
	if !in.Urgency.Valid() {
		return nil, nil, fault.Newf(fault.KindInvalidInput, "consensus: urgency %q outside the urgency scale", in.Urgency)
	}

	c, err := e.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, nil, err
	}
	if !model.NormalizeStatus(c.Status).Reviewable() {
		return nil, nil, fault.Newf(fault.KindConflict, "consensus: case %s is %s, reviews not accepted", in.CaseID, c.Status)
	}

	a, err := e.store.GetArtifactByCase(ctx, in.CaseID)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, fault.Newf(fault.KindConflict, "consensus: case %s has no artifact yet", in.CaseID)
	}

	r := &model.Review{
		CaseID:      in.CaseID,
		ArtifactID:  a.ID,
		ReviewerID:  reviewerID,
		Answer:      in.Answer,
		Urgency:     in.Urgency,
		Note:        strings.TrimSpace(in.Note),
		SubmittedAt: time.Now().UTC(),
	}
	if err := e.store.CreateReview(ctx, r); err != nil {
		return nil, nil, err
	}

	if err := e.store.MarkInReview(ctx, in.CaseID); err != nil {
		zap.L().Warn("failed to mark case in_review",
			zap.String("case_id", in.CaseID),
			zap.Error(err),
		)
	}
	if err := e.ledger.PostReviewReward(ctx, r); err != nil {
		zap.L().Warn("failed to post review reward",
			zap.String("case_id", in.CaseID),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err),
		)
	}
	notify.ReviewRecorded(ctx, e.events, in.CaseID, r.ID)

	cons, err := e.MaybeClose(ctx, in.CaseID, PolicyMajorityFallback)
	if err != nil {
		zap.L().Warn("automatic consensus close failed",
			zap.String("case_id", in.CaseID),
			zap.Error(err),
		)
		return r, nil, nil
	}
	return r, cons, nil
}

// tally counts answer votes and finds the strict-majority winner. tied is
// true when no option has a strictly highest count.
func tally(reviews []model.Review) (winner model.AnswerKey, winnerCount int, tied bool) {
	counts := make(map[model.AnswerKey]int, len(model.AnswerKeys))
	for _, r := range reviews {
		counts[r.Answer]++
	}

	best, bestCount, dup := model.AnswerKey(""), 0, false
	for _, k := range model.AnswerKeys {
		switch {
		case counts[k] > bestCount:
			best, bestCount, dup = k, counts[k], false
		case counts[k] == bestCount && counts[k] > 0:
			dup = true
		}
	}
	return best, bestCount, dup
}

// reviewerNotes collects up to maxReviewerNotes non-empty rationales.
func reviewerNotes(reviews []model.Review) []string {
	notes := make([]string, 0, maxReviewerNotes)
	for _, r := range reviews {
		n := strings.TrimSpace(r.Note)
		if n == "" {
			continue
		}
		notes = append(notes, n)
		if len(notes) == maxReviewerNotes {
			break
		}
	}
	return notes
}

// MaybeClose computes and publishes the consensus for a case if quorum is
// reached. Returns nil with no error while the case is not yet closable.
// Safe to call concurrently and repeatedly: the uniqueness constraint on the
// consensus record makes a racing close an idempotent no-op.
func (e *Engine) MaybeClose(ctx context.Context, caseID string, policy Policy) (*model.Consensus, error) {
	existing, err := e.store.GetConsensusByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := e.store.MarkConsensusReady(ctx, caseID, existing.ClosedAt); err != nil {
			return nil, err
		}
		return existing, nil
	}

	a, err := e.store.GetArtifactByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	reviews, err := e.store.ListReviewsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if a == nil || len(reviews) < e.minReviews {
		if policy == PolicyStrictSupermajority {
			return nil, fault.Newf(fault.KindConflict, "consensus: case %s has %d of %d required reviews", caseID, len(reviews), e.minReviews)
		}
		return nil, nil
	}

	winner, winnerCount, tied := tally(reviews)
	switch policy {
	case PolicyStrictSupermajority:
		if tied {
			return nil, fault.Wrap(fault.KindConflict, ErrTie, "consensus: manual intervention required")
		}
		if share := float64(winnerCount) / float64(len(reviews)); share < e.threshold {
			return nil, fault.Newf(fault.KindConflict, "consensus: winning share %.2f below supermajority threshold %.2f", share, e.threshold)
		}
	default:
		if tied {
			winner = model.KeyE
		}
	}

	urgencies := make([]model.Urgency, 0, len(reviews))
	answers := make([]string, 0, len(reviews))
	for _, r := range reviews {
		urgencies = append(urgencies, r.Urgency)
		answers = append(answers, string(r.Answer))
	}
	finalUrgency, ok := model.MaxUrgency(urgencies)
	if !ok {
		finalUrgency = model.DefaultUrgency
	}

	label := a.OptionLabel(winner)
	notes := reviewerNotes(reviews)

	summary := e.summarizer.GeneratePatientSummary(ctx, genai.SummaryInput{
		Patient:        a.Bundle.Patient,
		DiagnosisLabel: label,
		Urgency:        finalUrgency,
		ClinicianNotes: notes,
		Diagnosis:      a.Bundle.Diagnosis,
	})

	answerKeys := make([]string, len(model.AnswerKeys))
	for i, k := range model.AnswerKeys {
		answerKeys[i] = string(k)
	}
	urgencyKeys := []string{
		string(model.UrgencySelfCare),
		string(model.UrgencyWithin72h),
		string(model.UrgencyWithin24h),
		string(model.UrgencySeekNow),
	}
	urgencyValues := make([]string, len(reviews))
	for i, r := range reviews {
		urgencyValues[i] = string(r.Urgency)
	}

	cons := &model.Consensus{
		CaseID:             caseID,
		ArtifactID:         a.ID,
		FinalAnswer:        winner,
		FinalDiagnosis:     label,
		FinalUrgency:       finalUrgency,
		PatientSummary:     summary.Summary,
		PatientExplanation: summary.ExplanationSimple,
		ReviewerNotes:      strings.Join(notes, "\n"),
		TotalReviews:       len(reviews),
		AnswerStats:        model.TallyVotes(answers, answerKeys),
		UrgencyStats:       model.TallyVotes(urgencyValues, urgencyKeys),
		ClosedAt:           time.Now().UTC(),
	}

	bonuses := make([]model.RewardEntry, 0, winnerCount)
	if !tied {
		for i := range reviews {
			if reviews[i].Answer == winner {
				bonuses = append(bonuses, e.ledger.CorrectBonus(&reviews[i]))
			}
		}
	}

	if err := e.store.CloseConsensus(ctx, cons, model.StatusConsensusReady, bonuses); err != nil {
		if fault.IsConstraintViolation(err) {
			// A concurrent close won the race; theirs is authoritative.
			return e.store.GetConsensusByCase(ctx, caseID)
		}
		return nil, err
	}

	notify.ConsensusPublished(ctx, e.events, caseID, string(winner))
	zap.L().Info("consensus published",
		zap.String("case_id", caseID),
		zap.String("final_answer", string(winner)),
		zap.String("final_diagnosis", label),
		zap.String("final_urgency", string(finalUrgency)),
		zap.Int("reviews", len(reviews)),
		zap.Int("bonuses", len(bonuses)),
	)
	return cons, nil
}

// Close is the operator-invoked close. It enforces the strict supermajority
// policy and then moves the case to its terminal closed state.
func (e *Engine) Close(ctx context.Context, caseID string) (*model.Consensus, error) {
	cons, err := e.MaybeClose(ctx, caseID, PolicyStrictSupermajority)
	if err != nil {
		return nil, err
	}
	if err := e.store.MarkClosed(ctx, caseID, time.Now().UTC()); err != nil {
		return nil, err
	}
	notify.CaseClosed(ctx, e.events, caseID)
	zap.L().Info("case closed",
		zap.String("case_id", caseID),
		zap.String("final_answer", string(cons.FinalAnswer)),
	)
	return cons, nil
}
