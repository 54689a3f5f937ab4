package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/oliviagallego/TesaHealth/internal/db"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local
// development and tests. Semantics match PostgresStore, including the
// conditional-write claim protocol and constraint-absorbing inserts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL,
	interview_id  TEXT NOT NULL,
	patient       TEXT NOT NULL,
	evidence      TEXT NOT NULL,
	last_question TEXT,
	transcript    TEXT NOT NULL DEFAULT '[]',
	status        TEXT NOT NULL DEFAULT 'in_interview',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	submitted_at  DATETIME,
	closed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_cases_patient_id ON cases(patient_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL UNIQUE REFERENCES cases(id),
	vignette   TEXT NOT NULL,
	bundle     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	closed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS reviews (
	id           TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL REFERENCES cases(id),
	artifact_id  TEXT NOT NULL REFERENCES artifacts(id),
	reviewer_id  TEXT NOT NULL,
	answer       TEXT NOT NULL,
	urgency      TEXT NOT NULL,
	note         TEXT,
	submitted_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (case_id, reviewer_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_case_id ON reviews(case_id);
CREATE INDEX IF NOT EXISTS idx_reviews_reviewer_id ON reviews(reviewer_id);

CREATE TABLE IF NOT EXISTS consensus (
	id                  TEXT PRIMARY KEY,
	case_id             TEXT NOT NULL UNIQUE REFERENCES cases(id),
	artifact_id         TEXT NOT NULL REFERENCES artifacts(id),
	final_answer        TEXT NOT NULL,
	final_diagnosis     TEXT NOT NULL,
	final_urgency       TEXT NOT NULL,
	patient_summary     TEXT,
	patient_explanation TEXT,
	reviewer_notes      TEXT,
	total_reviews       INTEGER NOT NULL DEFAULT 0,
	answer_stats        TEXT NOT NULL,
	urgency_stats       TEXT NOT NULL,
	closed_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rewards (
	id           TEXT PRIMARY KEY,
	reviewer_id  TEXT NOT NULL,
	case_id      TEXT,
	review_id    TEXT,
	type         TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	currency     TEXT NOT NULL DEFAULT 'EUR',
	status       TEXT NOT NULL DEFAULT 'pending',
	meta         TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (reviewer_id, case_id, type)
);

CREATE INDEX IF NOT EXISTS idx_rewards_reviewer_id ON rewards(reviewer_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCase(ctx context.Context, c *model.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = model.StatusInInterview

	patientJSON, evidenceJSON, lastQJSON, transcriptJSON, err := marshalCaseFields(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, patient_id, interview_id, patient, evidence, last_question, transcript, status, created_at, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PatientID, c.InterviewID, string(patientJSON), string(evidenceJSON),
		nullableJSON(lastQJSON), string(transcriptJSON), string(c.Status), c.CreatedAt, c.SubmittedAt)
	return eris.Wrap(err, "sqlite: insert case")
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCase(row rowScanner) (*model.Case, error) {
	var c model.Case
	var status, patientJSON, evidenceJSON, transcriptJSON string
	var lastQJSON sql.NullString
	var submittedAt, closedAt sql.NullTime

	err := row.Scan(&c.ID, &c.PatientID, &c.InterviewID, &patientJSON, &evidenceJSON,
		&lastQJSON, &transcriptJSON, &status, &c.CreatedAt, &submittedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	c.Status = model.NormalizeStatus(model.CaseStatus(status))
	if err := json.Unmarshal([]byte(patientJSON), &c.Patient); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal patient")
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &c.Evidence); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &c.Transcript); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal transcript")
	}
	if lastQJSON.Valid && lastQJSON.String != "" {
		c.LastQ = &model.PendingQuestion{}
		if err := json.Unmarshal([]byte(lastQJSON.String), c.LastQ); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal last question")
		}
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		c.SubmittedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ?`, caseID)
	c, err := scanSQLiteCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "case not found: %s", caseID)
		}
		return nil, eris.Wrapf(err, "sqlite: get case %s", caseID)
	}
	return c, nil
}

func (s *SQLiteStore) GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ? AND patient_id = ?`,
		caseID, patientID)
	c, err := scanSQLiteCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "case not found: %s", caseID)
		}
		return nil, eris.Wrapf(err, "sqlite: get case %s for patient", caseID)
	}
	return c, nil
}

func (s *SQLiteStore) ListCasesByPatient(ctx context.Context, patientID string) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE patient_id = ? ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cases by patient")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanSQLiteCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case")
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: list cases iterate")
}

func (s *SQLiteStore) ListQueue(ctx context.Context, filter QueueFilter) ([]model.Case, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []model.CaseStatus{model.StatusAIReady, model.StatusInReview}
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+2)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, filter.ExcludeReviewer)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		   AND id NOT IN (SELECT case_id FROM reviews WHERE reviewer_id = ?)
		 ORDER BY created_at ASC
		 LIMIT ?`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queue")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanSQLiteCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue case")
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: list queue iterate")
}

func (s *SQLiteStore) UpdateInterview(ctx context.Context, caseID string, evidence []model.Finding, transcript []model.TranscriptEntry, lastQ *model.PendingQuestion) error {
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal transcript")
	}
	var lastQJSON []byte
	if lastQ != nil {
		if lastQJSON, err = json.Marshal(lastQ); err != nil {
			return eris.Wrap(err, "sqlite: marshal last question")
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET evidence = ?, transcript = ?, last_question = ?
		 WHERE id = ? AND status = 'in_interview'`,
		string(evidenceJSON), string(transcriptJSON), nullableJSON(lastQJSON), caseID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update interview %s", caseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return fault.Newf(fault.KindConflict, "case %s is not in interview", caseID)
	}
	return nil
}

func (s *SQLiteStore) ClaimForGeneration(ctx context.Context, caseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'ai_generating'
		 WHERE id = ? AND status = 'in_interview'`,
		caseID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim case %s", caseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'in_interview'
		 WHERE id = ? AND status IN ('ai_generating', 'ai_pending')`,
		caseID)
	return eris.Wrapf(err, "sqlite: release claim %s", caseID)
}

func (s *SQLiteStore) MarkReady(ctx context.Context, caseID string, submittedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'ai_ready', submitted_at = ?
		 WHERE id = ? AND status IN ('ai_generating', 'ai_pending', 'in_interview')`,
		submittedAt, caseID)
	return eris.Wrapf(err, "sqlite: mark ready %s", caseID)
}

func (s *SQLiteStore) MarkInReview(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'in_review'
		 WHERE id = ? AND status = 'ai_ready'`,
		caseID)
	return eris.Wrapf(err, "sqlite: mark in review %s", caseID)
}

func (s *SQLiteStore) MarkConsensusReady(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'consensus_ready', closed_at = ?
		 WHERE id = ? AND status NOT IN ('consensus_ready', 'closed')`,
		closedAt, caseID)
	return eris.Wrapf(err, "sqlite: mark consensus ready %s", caseID)
}

func (s *SQLiteStore) MarkClosed(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'closed', closed_at = ?
		 WHERE id = ? AND status <> 'closed'`,
		closedAt, caseID)
	return eris.Wrapf(err, "sqlite: mark closed %s", caseID)
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	bundleJSON, err := json.Marshal(a.Bundle)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bundle")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, case_id, vignette, bundle, created_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseID, a.Vignette, string(bundleJSON), a.CreatedAt, a.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConstraintViolation, err, "sqlite: artifact already exists")
		}
		return eris.Wrap(err, "sqlite: insert artifact")
	}
	return nil
}

func (s *SQLiteStore) GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error) {
	var a model.Artifact
	var bundleJSON string
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, vignette, bundle, created_at, closed_at FROM artifacts WHERE case_id = ?`,
		caseID,
	).Scan(&a.ID, &a.CaseID, &a.Vignette, &bundleJSON, &a.CreatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get artifact for case %s", caseID)
	}
	if err := json.Unmarshal([]byte(bundleJSON), &a.Bundle); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bundle")
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) CloseArtifact(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET closed_at = ? WHERE case_id = ? AND closed_at IS NULL`,
		closedAt, caseID)
	return eris.Wrapf(err, "sqlite: close artifact for case %s", caseID)
}

func (s *SQLiteStore) CreateReview(ctx context.Context, r *model.Review) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CaseID, r.ArtifactID, r.ReviewerID, string(r.Answer), string(r.Urgency), r.Note, r.SubmittedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConflict, err, "sqlite: reviewer already reviewed this case")
		}
		return eris.Wrap(err, "sqlite: insert review")
	}
	return nil
}

func scanSQLiteReviews(rows *sql.Rows, wrap string) ([]model.Review, error) {
	defer rows.Close()
	var reviews []model.Review
	for rows.Next() {
		var r model.Review
		var answer, urgency string
		var note sql.NullString
		if err := rows.Scan(&r.ID, &r.CaseID, &r.ArtifactID, &r.ReviewerID,
			&answer, &urgency, &note, &r.SubmittedAt); err != nil {
			return nil, eris.Wrap(err, wrap)
		}
		r.Answer = model.AnswerKey(answer)
		r.Urgency = model.Urgency(urgency)
		r.Note = note.String
		reviews = append(reviews, r)
	}
	return reviews, eris.Wrap(rows.Err(), wrap)
}

func (s *SQLiteStore) ListReviewsByCase(ctx context.Context, caseID string) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at
		 FROM reviews WHERE case_id = ? ORDER BY submitted_at ASC`,
		caseID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews by case")
	}
	return scanSQLiteReviews(rows, "sqlite: scan reviews by case")
}

func (s *SQLiteStore) ListReviewsByReviewer(ctx context.Context, reviewerID string) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at
		 FROM reviews WHERE reviewer_id = ? ORDER BY submitted_at DESC`,
		reviewerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews by reviewer")
	}
	return scanSQLiteReviews(rows, "sqlite: scan reviews by reviewer")
}

func (s *SQLiteStore) CloseConsensus(ctx context.Context, cons *model.Consensus, finalStatus model.CaseStatus, bonuses []model.RewardEntry) error {
	if cons.ID == "" {
		cons.ID = uuid.New().String()
	}
	answerStatsJSON, err := json.Marshal(cons.AnswerStats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal answer stats")
	}
	urgencyStatsJSON, err := json.Marshal(cons.UrgencyStats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal urgency stats")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin close consensus")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO consensus
		 (id, case_id, artifact_id, final_answer, final_diagnosis, final_urgency,
		  patient_summary, patient_explanation, reviewer_notes, total_reviews,
		  answer_stats, urgency_stats, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cons.ID, cons.CaseID, cons.ArtifactID, string(cons.FinalAnswer), cons.FinalDiagnosis,
		string(cons.FinalUrgency), cons.PatientSummary, cons.PatientExplanation,
		cons.ReviewerNotes, cons.TotalReviews, string(answerStatsJSON), string(urgencyStatsJSON), cons.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConstraintViolation, err, "sqlite: consensus already exists")
		}
		return eris.Wrap(err, "sqlite: insert consensus")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE cases SET status = ?, closed_at = ?
		 WHERE id = ? AND status NOT IN ('consensus_ready', 'closed')`,
		string(finalStatus), cons.ClosedAt, cons.CaseID)
	if err != nil {
		return eris.Wrap(err, "sqlite: advance case on consensus")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE artifacts SET closed_at = ? WHERE case_id = ? AND closed_at IS NULL`,
		cons.ClosedAt, cons.CaseID)
	if err != nil {
		return eris.Wrap(err, "sqlite: close artifact on consensus")
	}

	for i := range bonuses {
		b := &bonuses[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		metaJSON, err := json.Marshal(b.Meta)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal bonus meta")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rewards (id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (reviewer_id, case_id, type) DO NOTHING`,
			b.ID, b.ReviewerID, b.CaseID, b.ReviewID, string(b.Type), b.AmountCents,
			b.Currency, string(b.Status), string(metaJSON), b.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert bonus")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit close consensus")
}

func (s *SQLiteStore) GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error) {
	var c model.Consensus
	var finalAnswer, finalUrgency, answerStatsJSON, urgencyStatsJSON string
	var summary, explanation, notes sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, artifact_id, final_answer, final_diagnosis, final_urgency,
		        patient_summary, patient_explanation, reviewer_notes, total_reviews,
		        answer_stats, urgency_stats, closed_at
		 FROM consensus WHERE case_id = ?`,
		caseID,
	).Scan(&c.ID, &c.CaseID, &c.ArtifactID, &finalAnswer, &c.FinalDiagnosis, &finalUrgency,
		&summary, &explanation, &notes, &c.TotalReviews,
		&answerStatsJSON, &urgencyStatsJSON, &c.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get consensus for case %s", caseID)
	}

	c.FinalAnswer = model.AnswerKey(finalAnswer)
	c.FinalUrgency = model.Urgency(finalUrgency)
	c.PatientSummary = summary.String
	c.PatientExplanation = explanation.String
	c.ReviewerNotes = notes.String
	if err := json.Unmarshal([]byte(answerStatsJSON), &c.AnswerStats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal answer stats")
	}
	if err := json.Unmarshal([]byte(urgencyStatsJSON), &c.UrgencyStats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal urgency stats")
	}
	return &c, nil
}

func (s *SQLiteStore) PostReward(ctx context.Context, e *model.RewardEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reward meta")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rewards (id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (reviewer_id, case_id, type) DO NOTHING`,
		e.ID, e.ReviewerID, e.CaseID, e.ReviewID, string(e.Type), e.AmountCents,
		e.Currency, string(e.Status), string(metaJSON), e.CreatedAt)
	return eris.Wrap(err, "sqlite: post reward")
}

func (s *SQLiteStore) ListRewardsByReviewer(ctx context.Context, reviewerID string) ([]model.RewardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at
		 FROM rewards WHERE reviewer_id = ? ORDER BY created_at DESC`,
		reviewerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rewards")
	}
	defer rows.Close()

	var entries []model.RewardEntry
	for rows.Next() {
		var e model.RewardEntry
		var typ, status string
		var caseID, reviewID, metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.ReviewerID, &caseID, &reviewID, &typ,
			&e.AmountCents, &e.Currency, &status, &metaJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reward")
		}
		e.Type = model.CreditType(typ)
		e.Status = model.RewardStatus(status)
		e.CaseID = caseID.String
		e.ReviewID = reviewID.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Meta); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal reward meta")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list rewards iterate")
}
