package artifact

import (
	"sort"
	"strings"

	"github.com/oliviagallego/TesaHealth/internal/model"
)

// Match is a resolved pairing between a free-text label and one of the
// artifact's stored answer options.
type Match struct {
	Key   model.AnswerKey
	Label string
	Exact bool
}

// MatchOption maps a free-text condition label onto one of the stored answer
// options. Two passes: exact normalized equality first, then substring
// containment in either direction. Returns false when nothing matches.
func MatchOption(options []model.Option, label string) (Match, bool) {
	n := normalizeLabel(label)
	if n == "" {
		return Match{}, false
	}

	for _, o := range options {
		if normalizeLabel(o.Label) == n {
			return Match{Key: o.Key, Label: o.Label, Exact: true}, true
		}
	}

	for _, o := range options {
		on := normalizeLabel(o.Label)
		if on == "" {
			continue
		}
		if strings.Contains(on, n) || strings.Contains(n, on) {
			return Match{Key: o.Key, Label: o.Label}, true
		}
	}

	return Match{}, false
}

// conditionLabel picks the display label of a ranked condition.
func conditionLabel(c model.RankedCondition) string {
	if c.CommonName != "" {
		return c.CommonName
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// OptionInference pairs an answer option with the diagnosis snapshot's
// probability for its best-matching condition. Options no condition matches
// came from the generative label fill and carry no probability.
type OptionInference struct {
	Key         model.AnswerKey `json:"key"`
	Label       string          `json:"label"`
	Source      string          `json:"source"`
	Probability *float64        `json:"probability,omitempty"`
}

const (
	sourceDiagnosis = "diagnosis"
	sourceGenerated = "generated"
)

// InferByOption resolves each public option of the artifact against the
// diagnosis snapshot: conditions are walked in probability order and mapped
// onto options with MatchOption, so each option keeps its highest-probability
// match.
func InferByOption(a *model.Artifact) []OptionInference {
	if a == nil {
		return nil
	}
	options := a.Bundle.Public.Options

	conds := append([]model.RankedCondition(nil), a.Bundle.Diagnosis.Conditions...)
	sort.SliceStable(conds, func(i, j int) bool {
		return conds[i].Probability > conds[j].Probability
	})

	best := make(map[model.AnswerKey]model.RankedCondition, len(options))
	for _, c := range conds {
		m, ok := MatchOption(options, conditionLabel(c))
		if !ok {
			continue
		}
		if _, seen := best[m.Key]; !seen {
			best[m.Key] = c
		}
	}

	out := make([]OptionInference, 0, len(options))
	for _, o := range options {
		inf := OptionInference{Key: o.Key, Label: o.Label, Source: sourceGenerated}
		if c, ok := best[o.Key]; ok {
			p := c.Probability
			inf.Source = sourceDiagnosis
			inf.Probability = &p
		}
		out = append(out, inf)
	}
	return out
}
