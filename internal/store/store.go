package store

import (
	"context"
	"time"

	"github.com/oliviagallego/TesaHealth/internal/model"
)

// QueueFilter selects cases for the reviewer queue.
type QueueFilter struct {
	Statuses        []model.CaseStatus `json:"statuses,omitempty"`
	ExcludeReviewer string             `json:"exclude_reviewer,omitempty"`
	Limit           int                `json:"limit,omitempty"`
}

// Store is the persistence interface for the case lifecycle. All mutual
// exclusion is expressed as conditional writes against it; there is no lock
// service.
type Store interface {
	// Cases
	CreateCase(ctx context.Context, c *model.Case) error
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error)
	ListCasesByPatient(ctx context.Context, patientID string) ([]model.Case, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]model.Case, error)

	// UpdateInterview persists merged evidence, the transcript, and the new
	// pending question. Legal only while the case is in_interview.
	UpdateInterview(ctx context.Context, caseID string, evidence []model.Finding, transcript []model.TranscriptEntry, lastQ *model.PendingQuestion) error

	// ClaimForGeneration atomically moves in_interview → ai_generating and
	// reports whether the caller won the claim. Exactly one concurrent
	// caller wins; losers must re-read instead of generating.
	ClaimForGeneration(ctx context.Context, caseID string) (bool, error)
	// ReleaseClaim rolls ai_generating back to in_interview so a failed
	// generation stays retryable.
	ReleaseClaim(ctx context.Context, caseID string) error

	MarkReady(ctx context.Context, caseID string, submittedAt time.Time) error
	MarkInReview(ctx context.Context, caseID string) error
	MarkConsensusReady(ctx context.Context, caseID string, closedAt time.Time) error
	MarkClosed(ctx context.Context, caseID string, closedAt time.Time) error

	// Artifacts
	CreateArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error)
	CloseArtifact(ctx context.Context, caseID string, closedAt time.Time) error

	// Reviews
	CreateReview(ctx context.Context, r *model.Review) error
	ListReviewsByCase(ctx context.Context, caseID string) ([]model.Review, error)
	ListReviewsByReviewer(ctx context.Context, reviewerID string) ([]model.Review, error)

	// Consensus. CloseConsensus records the verdict, advances the case to
	// finalStatus, backfills the artifact closure timestamp, and posts the
	// winner bonuses, all in one transaction. A uniqueness collision on the
	// case reference is returned as a ConstraintViolation fault.
	CloseConsensus(ctx context.Context, cons *model.Consensus, finalStatus model.CaseStatus, bonuses []model.RewardEntry) error
	GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error)

	// Rewards
	PostReward(ctx context.Context, e *model.RewardEntry) error
	ListRewardsByReviewer(ctx context.Context, reviewerID string) ([]model.RewardEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
