package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/model"
	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
)

// NoneOfTheAboveLabel is the fixed label of option E.
const NoneOfTheAboveLabel = "None of the above"

const questionSystemPrompt = `You are an experienced clinical exam item writer. Write ONE single-best-answer multiple-choice question in ENGLISH based strictly on the provided case context.
You will be given the allowed answer options (A-D). Use those option labels verbatim; do not invent new options. Option E is always "None of the above".
Rules:
- Start the vignette with: "A <age>-year-old man/woman..."
- Realistic clinical vignette (3-6 lines) + clear lead-in
- Exactly one best answer among A-D
- No PII
- IMPORTANT: The vignette must NOT contain any question/lead-in. Put the question ONLY in lead_in.
Respond with a strict JSON object:
{"public": {"language": "en", "vignette": "...", "lead_in": "...", "options": [{"key": "A", "label": "..."}, ...], "question_text": "..."},
 "private": {"correct_option_id": "A-D", "why_correct": "..."},
 "meta": {"focus": "diagnosis|confirmatory_test|next_step|treatment", "difficulty": "easy|medium|hard", "topic": "..."}}`

// QuestionInput carries the case context for question generation.
type QuestionInput struct {
	Patient      model.PatientContext
	Evidence     []model.Finding
	Diagnosis    model.DiagnosisSnapshot
	Transcript   []model.TranscriptEntry
	OptionLabels []string // exactly 4 labels for keys A-D
	Focus        string
	Difficulty   string
	Topic        string
}

// QuestionDraft is the generated question before it is bound to an artifact.
type QuestionDraft struct {
	Public  model.QuestionPublic
	Private model.QuestionPrivate
	Meta    model.QuestionMeta
}

// buildOptions assembles the closed option list from the supplied labels.
func buildOptions(labels []string) []model.Option {
	opts := make([]model.Option, 0, 5)
	for i, key := range []model.AnswerKey{model.KeyA, model.KeyB, model.KeyC, model.KeyD} {
		label := fmt.Sprintf("Option %s", key)
		if i < len(labels) && strings.TrimSpace(labels[i]) != "" {
			label = labels[i]
		}
		opts = append(opts, model.Option{Key: key, Label: label})
	}
	opts = append(opts, model.Option{Key: model.KeyE, Label: NoneOfTheAboveLabel})
	return opts
}

type questionPayload struct {
	Patient    model.PatientContext    `json:"patient"`
	Evidence   []model.Finding         `json:"evidence"`
	Diagnosis  model.DiagnosisSnapshot `json:"diagnosis"`
	Transcript []model.TranscriptEntry `json:"interview_log,omitempty"`
	Options    []model.Option          `json:"options"`
	Focus      string                  `json:"focus"`
	Difficulty string                  `json:"difficulty"`
	Topic      string                  `json:"topic"`
}

// GenerateQuestion drafts the reviewer-facing question. Unlike the patient
// summary there is no local fallback: a failed generation fails the artifact.
func (g *Generator) GenerateQuestion(ctx context.Context, in QuestionInput) (*QuestionDraft, error) {
	if in.Focus == "" {
		in.Focus = "diagnosis"
	}
	if in.Difficulty == "" {
		in.Difficulty = "medium"
	}
	if in.Topic == "" {
		in.Topic = "clinical diagnosis"
	}

	supplied := buildOptions(in.OptionLabels)

	// Transcript tail only; the full log can be long.
	transcript := in.Transcript
	if len(transcript) > 40 {
		transcript = transcript[len(transcript)-40:]
	}

	payload, err := json.Marshal(questionPayload{
		Patient:    in.Patient,
		Evidence:   in.Evidence,
		Diagnosis:  in.Diagnosis,
		Transcript: transcript,
		Options:    supplied,
		Focus:      in.Focus,
		Difficulty: in.Difficulty,
		Topic:      in.Topic,
	})
	if err != nil {
		return nil, eris.Wrap(err, "genai: marshal question payload")
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(questionSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Generate the question from this JSON:\n" + string(payload)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "genai: generate question")
	}
	resp.Usage.LogCost(g.model, "question")

	var parsed struct {
		Public  model.QuestionPublic  `json:"public"`
		Private model.QuestionPrivate `json:"private"`
		Meta    model.QuestionMeta    `json:"meta"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &parsed); err != nil {
		return nil, eris.Wrap(err, "genai: parse question response")
	}

	draft := &QuestionDraft{Public: parsed.Public, Private: parsed.Private, Meta: parsed.Meta}
	draft.Public.Language = "en"
	draft.Public.LeadIn = strings.TrimSpace(draft.Public.LeadIn)
	draft.Public.Vignette = stripTrailingQuestion(strings.TrimSpace(draft.Public.Vignette), draft.Public.LeadIn)
	draft.Public.QuestionText = strings.TrimSpace(draft.Public.Vignette + "\n\n" + draft.Public.LeadIn)

	if len(draft.Public.Options) == 0 {
		draft.Public.Options = supplied
	}
	if hasDuplicateOptions(draft.Public.Options) {
		zap.L().Warn("genai: generated options rejected, using supplied labels")
		draft.Public.Options = supplied
	}

	if !draft.Private.CorrectOption.Valid() || draft.Private.CorrectOption == model.KeyE {
		return nil, eris.Errorf("genai: invalid correct option %q", draft.Private.CorrectOption)
	}
	if draft.Meta.Focus == "" {
		draft.Meta.Focus = in.Focus
	}
	if draft.Meta.Difficulty == "" {
		draft.Meta.Difficulty = in.Difficulty
	}
	if draft.Meta.Topic == "" {
		draft.Meta.Topic = in.Topic
	}
	return draft, nil
}

// hasDuplicateOptions reports whether any of the A-D labels is empty or
// repeats another after normalization.
func hasDuplicateOptions(opts []model.Option) bool {
	byKey := make(map[model.AnswerKey]string, len(opts))
	for _, o := range opts {
		byKey[o.Key] = o.Label
	}
	seen := make(map[string]bool, 4)
	for _, k := range []model.AnswerKey{model.KeyA, model.KeyB, model.KeyC, model.KeyD} {
		n := normalizeLabel(byKey[k])
		if n == "" || seen[n] {
			return true
		}
		seen[n] = true
	}
	return false
}

// stripTrailingQuestion removes an echoed lead-in from the end of the
// vignette: first any literal repetitions of the lead-in, then up to three
// trailing sentences that read like a question.
func stripTrailingQuestion(vignette, leadIn string) string {
	v := strings.TrimSpace(vignette)
	if v == "" {
		return v
	}

	if l := strings.TrimSpace(leadIn); l != "" {
		ll := strings.ToLower(l)
		for strings.HasSuffix(strings.ToLower(v), ll) && len(v) >= len(l) {
			v = strings.TrimSpace(v[:len(v)-len(l)])
		}
	}

	for i := 0; i < 3; i++ {
		if !strings.HasSuffix(strings.TrimSpace(v), "?") {
			break
		}
		qIdx := strings.LastIndex(v, "?")
		start := -1
		for _, sep := range []string{".", "\n", "!"} {
			if idx := strings.LastIndex(v[:qIdx], sep); idx > start {
				start = idx
			}
		}
		lastChunk := strings.TrimSpace(v[start+1 : qIdx+1])
		if !looksLikeLeadIn(lastChunk) {
			break
		}
		if start >= 0 {
			v = strings.TrimSpace(v[:start+1])
		} else {
			v = strings.TrimSpace(v[:qIdx])
		}
	}

	return strings.TrimSpace(v)
}

func looksLikeLeadIn(chunk string) bool {
	lower := strings.ToLower(chunk)
	for _, prefix := range []string{"what", "which", "based on"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.Contains(lower, "most likely") || strings.Contains(lower, "diagnos")
}
