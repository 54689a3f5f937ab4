// Package evidence normalizes and merges the finding sets reported over
// successive interview turns.
package evidence

import (
	"strings"

	"github.com/oliviagallego/TesaHealth/internal/model"
)

// Normalize drops malformed findings and trims names. A finding needs a
// non-empty ID and a valid state to participate in a merge.
func Normalize(in []model.Finding) []model.Finding {
	out := make([]model.Finding, 0, len(in))
	for _, f := range in {
		if f.ID == "" || !f.State.Valid() {
			continue
		}
		f.Name = strings.TrimSpace(f.Name)
		out = append(out, f)
	}
	return out
}

// Merge performs a keyed union of incoming over existing. Incoming entries
// overwrite the state of an existing entry with the same ID; the name is
// overwritten only when the incoming entry supplies a non-empty one. Result
// order is insertion order of first occurrence, existing before incoming.
// Merge is pure and idempotent: Merge(Merge(a,b), b) == Merge(a,b).
func Merge(existing, incoming []model.Finding) []model.Finding {
	type slot struct {
		idx int
		f   model.Finding
	}
	index := make(map[string]*slot, len(existing)+len(incoming))
	order := make([]*slot, 0, len(existing)+len(incoming))

	add := func(f model.Finding) {
		if f.ID == "" {
			return
		}
		if s, ok := index[f.ID]; ok {
			s.f.State = f.State
			if strings.TrimSpace(f.Name) != "" {
				s.f.Name = strings.TrimSpace(f.Name)
			}
			return
		}
		s := &slot{idx: len(order), f: f}
		index[f.ID] = s
		order = append(order, s)
	}

	for _, f := range existing {
		add(f)
	}
	for _, f := range incoming {
		add(f)
	}

	out := make([]model.Finding, len(order))
	for i, s := range order {
		out[i] = s.f
	}
	return out
}

// PruneExclusiveGroup removes the non-selected members of a group_single
// question from the merged evidence. The diagnosis capability expects a
// clean either/or state for an exclusive group, not a list of explicit
// negatives, so the rejected findings are removed entirely.
func PruneExclusiveGroup(merged []model.Finding, q *model.PendingQuestion, incoming []model.Finding) []model.Finding {
	if q == nil || q.Type != model.QuestionGroupSingle || len(q.Items) == 0 {
		return merged
	}

	var selected string
	if len(incoming) > 0 {
		selected = incoming[0].ID
	}

	group := make(map[string]bool, len(q.Items))
	for _, it := range q.Items {
		group[it.ID] = true
	}

	out := merged[:0:0]
	for _, f := range merged {
		if group[f.ID] && f.ID != selected {
			continue
		}
		out = append(out, f)
	}
	return out
}
