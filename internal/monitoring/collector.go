// Package monitoring watches the case lifecycle for operational problems:
// generation claims that never resolved and review backlogs that starve
// cases of their quorum.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/internal/store"
)

// collectLimit bounds each status scan.
const collectLimit = 500

// MetricsSnapshot is one point-in-time view of lifecycle health.
type MetricsSnapshot struct {
	StuckGenerating int           `json:"stuck_generating"`
	AwaitingReview  int           `json:"awaiting_review"`
	OldestAwaiting  time.Duration `json:"oldest_awaiting"`
	StuckCaseIDs    []string      `json:"stuck_case_ids,omitempty"`
	CollectedAt     time.Time     `json:"collected_at"`
	StuckThreshold  time.Duration `json:"stuck_threshold"`
}

// QueueLister is the slice of the store the collector needs.
type QueueLister interface {
	ListQueue(ctx context.Context, filter store.QueueFilter) ([]model.Case, error)
}

// Collector builds lifecycle snapshots from the store.
type Collector struct {
	store QueueLister

	// stuckAfter is how long a case may hold the generation claim before
	// it counts as stuck.
	stuckAfter time.Duration
}

// NewCollector creates a Collector. A zero stuckAfter defaults to 10 minutes.
func NewCollector(st QueueLister, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &Collector{store: st, stuckAfter: stuckAfter}
}

// Collect scans the lifecycle states that can indicate trouble.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{CollectedAt: now, StuckThreshold: c.stuckAfter}

	generating, err := c.store.ListQueue(ctx, store.QueueFilter{
		Statuses: []model.CaseStatus{model.StatusAIGenerating},
		Limit:    collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list generating cases")
	}
	for _, g := range generating {
		if now.Sub(g.CreatedAt) >= c.stuckAfter {
			snap.StuckGenerating++
			snap.StuckCaseIDs = append(snap.StuckCaseIDs, g.ID)
		}
	}

	awaiting, err := c.store.ListQueue(ctx, store.QueueFilter{
		Statuses: []model.CaseStatus{model.StatusAIReady, model.StatusInReview},
		Limit:    collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list awaiting cases")
	}
	snap.AwaitingReview = len(awaiting)
	for _, a := range awaiting {
		ref := a.CreatedAt
		if a.SubmittedAt != nil {
			ref = *a.SubmittedAt
		}
		if age := now.Sub(ref); age > snap.OldestAwaiting {
			snap.OldestAwaiting = age
		}
	}

	return snap, nil
}
