package model

import "time"

// CreditType distinguishes reward postings. A reviewer earns at most one
// entry per (reviewer, case, type).
type CreditType string

const (
	CreditReviewReward CreditType = "review_reward"
	CreditCorrectBonus CreditType = "correct_bonus"
	CreditAdjustment   CreditType = "adjustment"
)

// RewardStatus is the payout state of a reward entry.
type RewardStatus string

const (
	RewardPending RewardStatus = "pending"
	RewardPaid    RewardStatus = "paid"
	RewardVoid    RewardStatus = "void"
)

// RewardEntry is one monetary credit posted to a reviewer.
type RewardEntry struct {
	ID         string `json:"id"`
	ReviewerID string `json:"reviewer_id"`
	CaseID     string `json:"case_id,omitempty"`
	ReviewID   string `json:"review_id,omitempty"`

	Type        CreditType   `json:"type"`
	AmountCents int          `json:"amount_cents"`
	Currency    string       `json:"currency"`
	Status      RewardStatus `json:"status"`

	Meta map[string]string `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// WalletTotals summarizes a reviewer's ledger in minor currency units.
type WalletTotals struct {
	TotalCents   int `json:"total_cents"`
	PendingCents int `json:"pending_cents"`
	PaidCents    int `json:"paid_cents"`
}
