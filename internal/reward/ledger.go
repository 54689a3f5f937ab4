// Package reward posts monetary credits to reviewers and answers wallet
// queries. Every posting is idempotent under the (reviewer, case, type)
// uniqueness constraint.
package reward

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/model"
)

// Default posting amounts in minor currency units.
const (
	DefaultReviewRewardCents = 1000
	DefaultCorrectBonusCents = 1000
	DefaultCurrency          = "EUR"
)

// Store is the slice of persistence the ledger needs.
type Store interface {
	PostReward(ctx context.Context, e *model.RewardEntry) error
	ListRewardsByReviewer(ctx context.Context, reviewerID string) ([]model.RewardEntry, error)
}

// Ledger posts reviewer credits.
type Ledger struct {
	store Store

	reviewCents int
	bonusCents  int
	currency    string
}

// NewLedger creates a Ledger. Zero amounts fall back to the defaults.
func NewLedger(st Store, reviewCents, bonusCents int, currency string) *Ledger {
	if reviewCents <= 0 {
		reviewCents = DefaultReviewRewardCents
	}
	if bonusCents <= 0 {
		bonusCents = DefaultCorrectBonusCents
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Ledger{store: st, reviewCents: reviewCents, bonusCents: bonusCents, currency: currency}
}

// entry builds one pending reward posting.
func (l *Ledger) entry(r *model.Review, t model.CreditType, cents int) *model.RewardEntry {
	return &model.RewardEntry{
		ReviewerID:  r.ReviewerID,
		CaseID:      r.CaseID,
		ReviewID:    r.ID,
		Type:        t,
		AmountCents: cents,
		Currency:    l.currency,
		Status:      model.RewardPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// PostReviewReward credits one review_reward for a submitted review. A
// duplicate posting is absorbed silently.
func (l *Ledger) PostReviewReward(ctx context.Context, r *model.Review) error {
	err := l.store.PostReward(ctx, l.entry(r, model.CreditReviewReward, l.reviewCents))
	if err != nil && !fault.IsConstraintViolation(err) {
		return err
	}
	zap.L().Debug("review reward posted",
		zap.String("reviewer_id", r.ReviewerID),
		zap.String("case_id", r.CaseID),
	)
	return nil
}

// CorrectBonus builds the correct_bonus posting for a review whose answer
// matched the consensus winner. The consensus close persists these inside its
// transactional unit.
func (l *Ledger) CorrectBonus(r *model.Review) model.RewardEntry {
	return *l.entry(r, model.CreditCorrectBonus, l.bonusCents)
}

// WalletTotals sums a reviewer's ledger by payout status.
func (l *Ledger) WalletTotals(ctx context.Context, reviewerID string) (model.WalletTotals, []model.RewardEntry, error) {
	entries, err := l.store.ListRewardsByReviewer(ctx, reviewerID)
	if err != nil {
		return model.WalletTotals{}, nil, err
	}

	var totals model.WalletTotals
	for _, e := range entries {
		switch e.Status {
		case model.RewardPending:
			totals.PendingCents += e.AmountCents
			totals.TotalCents += e.AmountCents
		case model.RewardPaid:
			totals.PaidCents += e.AmountCents
			totals.TotalCents += e.AmountCents
		}
	}
	return totals, entries, nil
}
