package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/oliviagallego/TesaHealth/internal/db"
	"github.com/oliviagallego/TesaHealth/internal/fault"
	"github.com/oliviagallego/TesaHealth/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL,
	interview_id  TEXT NOT NULL,
	patient       JSONB NOT NULL,
	evidence      JSONB NOT NULL,
	last_question JSONB,
	transcript    JSONB NOT NULL DEFAULT '[]',
	status        TEXT NOT NULL DEFAULT 'in_interview',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at  TIMESTAMPTZ,
	closed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_cases_patient_id ON cases(patient_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL UNIQUE REFERENCES cases(id),
	vignette   TEXT NOT NULL,
	bundle     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS reviews (
	id           TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL REFERENCES cases(id),
	artifact_id  TEXT NOT NULL REFERENCES artifacts(id),
	reviewer_id  TEXT NOT NULL,
	answer       TEXT NOT NULL,
	urgency      TEXT NOT NULL,
	note         TEXT,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	answer_stats        JSONB NOT NULL,
	urgency_stats       JSONB NOT NULL,
	closed_at           TIMESTAMPTZ NOT NULL
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
	meta         JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (reviewer_id, case_id, type)
);

CREATE INDEX IF NOT EXISTS idx_rewards_reviewer_id ON rewards(reviewer_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const caseColumns = `id, patient_id, interview_id, patient, evidence, last_question, transcript, status, created_at, submitted_at, closed_at`

func (s *PostgresStore) CreateCase(ctx context.Context, c *model.Case) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cases (id, patient_id, interview_id, patient, evidence, last_question, transcript, status, created_at, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.PatientID, c.InterviewID, patientJSON, evidenceJSON, lastQJSON, transcriptJSON,
		string(c.Status), c.CreatedAt, c.SubmittedAt,
	)
	return eris.Wrap(err, "postgres: insert case")
}

func marshalCaseFields(c *model.Case) (patient, evidence, lastQ, transcript []byte, err error) {
	if patient, err = json.Marshal(c.Patient); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal patient")
	}
	if c.Evidence == nil {
		c.Evidence = []model.Finding{}
	}
	if evidence, err = json.Marshal(c.Evidence); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal evidence")
	}
	if c.LastQ != nil {
		if lastQ, err = json.Marshal(c.LastQ); err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal last question")
		}
	}
	if c.Transcript == nil {
		c.Transcript = []model.TranscriptEntry{}
	}
	if transcript, err = json.Marshal(c.Transcript); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "postgres: marshal transcript")
	}
	return patient, evidence, lastQ, transcript, nil
}

func scanCase(row pgx.Row) (*model.Case, error) {
	var c model.Case
	var status string
	var patientJSON, evidenceJSON, transcriptJSON []byte
	var lastQJSON *[]byte

	err := row.Scan(&c.ID, &c.PatientID, &c.InterviewID, &patientJSON, &evidenceJSON,
		&lastQJSON, &transcriptJSON, &status, &c.CreatedAt, &c.SubmittedAt, &c.ClosedAt)
	if err != nil {
		return nil, err
	}

	c.Status = model.NormalizeStatus(model.CaseStatus(status))
	if err := json.Unmarshal(patientJSON, &c.Patient); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal patient")
	}
	if err := json.Unmarshal(evidenceJSON, &c.Evidence); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal evidence")
	}
	if err := json.Unmarshal(transcriptJSON, &c.Transcript); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal transcript")
	}
	if lastQJSON != nil && len(*lastQJSON) > 0 {
		c.LastQ = &model.PendingQuestion{}
		if err := json.Unmarshal(*lastQJSON, c.LastQ); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal last question")
		}
	}
	return &c, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID)
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "case not found: %s", caseID)
		}
		return nil, eris.Wrapf(err, "postgres: get case %s", caseID)
	}
	return c, nil
}

func (s *PostgresStore) GetCaseForPatient(ctx context.Context, caseID, patientID string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1 AND patient_id = $2`,
		caseID, patientID)
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "case not found: %s", caseID)
		}
		return nil, eris.Wrapf(err, "postgres: get case %s for patient", caseID)
	}
	return c, nil
}

func (s *PostgresStore) ListCasesByPatient(ctx context.Context, patientID string) ([]model.Case, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cases by patient")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan case")
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: list cases iterate")
}

func (s *PostgresStore) ListQueue(ctx context.Context, filter QueueFilter) ([]model.Case, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []model.CaseStatus{model.StatusAIReady, model.StatusInReview}
	}
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE status = ANY($1)
		   AND id NOT IN (SELECT case_id FROM reviews WHERE reviewer_id = $2)
		 ORDER BY created_at ASC
		 LIMIT $3`,
		strs, filter.ExcludeReviewer, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queue")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue case")
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: list queue iterate")
}

func (s *PostgresStore) UpdateInterview(ctx context.Context, caseID string, evidence []model.Finding, transcript []model.TranscriptEntry, lastQ *model.PendingQuestion) error {
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal transcript")
	}
	var lastQJSON []byte
	if lastQ != nil {
		if lastQJSON, err = json.Marshal(lastQ); err != nil {
			return eris.Wrap(err, "postgres: marshal last question")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET evidence = $1, transcript = $2, last_question = $3
		 WHERE id = $4 AND status = 'in_interview'`,
		evidenceJSON, transcriptJSON, lastQJSON, caseID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update interview %s", caseID)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.KindConflict, "case %s is not in interview", caseID)
	}
	return nil
}

// ClaimForGeneration is the single conditional write behind the claim
// protocol. The WHERE clause carries the mutual exclusion: only a caller
// that observes status exactly in_interview flips it.
func (s *PostgresStore) ClaimForGeneration(ctx context.Context, caseID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'ai_generating'
		 WHERE id = $1 AND status = 'in_interview'`,
		caseID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim case %s", caseID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, caseID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'in_interview'
		 WHERE id = $1 AND status IN ('ai_generating', 'ai_pending')`,
		caseID)
	return eris.Wrapf(err, "postgres: release claim %s", caseID)
}

func (s *PostgresStore) MarkReady(ctx context.Context, caseID string, submittedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'ai_ready', submitted_at = $1
		 WHERE id = $2 AND status IN ('ai_generating', 'ai_pending', 'in_interview')`,
		submittedAt, caseID)
	return eris.Wrapf(err, "postgres: mark ready %s", caseID)
}

func (s *PostgresStore) MarkInReview(ctx context.Context, caseID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'in_review'
		 WHERE id = $1 AND status = 'ai_ready'`,
		caseID)
	return eris.Wrapf(err, "postgres: mark in review %s", caseID)
}

func (s *PostgresStore) MarkConsensusReady(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'consensus_ready', closed_at = $1
		 WHERE id = $2 AND status NOT IN ('consensus_ready', 'closed')`,
		closedAt, caseID)
	return eris.Wrapf(err, "postgres: mark consensus ready %s", caseID)
}

func (s *PostgresStore) MarkClosed(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = 'closed', closed_at = $1
		 WHERE id = $2 AND status <> 'closed'`,
		closedAt, caseID)
	return eris.Wrapf(err, "postgres: mark closed %s", caseID)
}

func (s *PostgresStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	bundleJSON, err := json.Marshal(a.Bundle)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bundle")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, case_id, vignette, bundle, created_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.CaseID, a.Vignette, bundleJSON, a.CreatedAt, a.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConstraintViolation, err, "postgres: artifact already exists")
		}
		return eris.Wrap(err, "postgres: insert artifact")
	}
	return nil
}

func (s *PostgresStore) GetArtifactByCase(ctx context.Context, caseID string) (*model.Artifact, error) {
	var a model.Artifact
	var bundleJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, case_id, vignette, bundle, created_at, closed_at FROM artifacts WHERE case_id = $1`,
		caseID,
	).Scan(&a.ID, &a.CaseID, &a.Vignette, &bundleJSON, &a.CreatedAt, &a.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get artifact for case %s", caseID)
	}
	if err := json.Unmarshal(bundleJSON, &a.Bundle); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bundle")
	}
	return &a, nil
}

func (s *PostgresStore) CloseArtifact(ctx context.Context, caseID string, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET closed_at = $1 WHERE case_id = $2 AND closed_at IS NULL`,
		closedAt, caseID)
	return eris.Wrapf(err, "postgres: close artifact for case %s", caseID)
}

func (s *PostgresStore) CreateReview(ctx context.Context, r *model.Review) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reviews (id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.CaseID, r.ArtifactID, r.ReviewerID, string(r.Answer), string(r.Urgency), r.Note, r.SubmittedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConflict, err, "postgres: reviewer already reviewed this case")
		}
		return eris.Wrap(err, "postgres: insert review")
	}
	return nil
}

func scanReviews(rows pgx.Rows, wrap string) ([]model.Review, error) {
	defer rows.Close()
	var reviews []model.Review
	for rows.Next() {
		var r model.Review
		var answer, urgency string
		var note *string
		if err := rows.Scan(&r.ID, &r.CaseID, &r.ArtifactID, &r.ReviewerID,
			&answer, &urgency, &note, &r.SubmittedAt); err != nil {
			return nil, eris.Wrap(err, wrap)
		}
		r.Answer = model.AnswerKey(answer)
		r.Urgency = model.Urgency(urgency)
		if note != nil {
			r.Note = *note
		}
		reviews = append(reviews, r)
	}
	return reviews, eris.Wrap(rows.Err(), wrap)
}

func (s *PostgresStore) ListReviewsByCase(ctx context.Context, caseID string) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at
		 FROM reviews WHERE case_id = $1 ORDER BY submitted_at ASC`,
		caseID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews by case")
	}
	return scanReviews(rows, "postgres: scan reviews by case")
}

func (s *PostgresStore) ListReviewsByReviewer(ctx context.Context, reviewerID string) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, artifact_id, reviewer_id, answer, urgency, note, submitted_at
		 FROM reviews WHERE reviewer_id = $1 ORDER BY submitted_at DESC`,
		reviewerID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews by reviewer")
	}
	return scanReviews(rows, "postgres: scan reviews by reviewer")
}

// CloseConsensus is the atomic unit of work behind consensus publication.
// The uniqueness constraint on consensus.case_id is the backstop for
// concurrent closers; a collision rolls the whole transaction back and is
// reported as a ConstraintViolation for idempotent handling upstream.
func (s *PostgresStore) CloseConsensus(ctx context.Context, cons *model.Consensus, finalStatus model.CaseStatus, bonuses []model.RewardEntry) error {
	if cons.ID == "" {
		cons.ID = uuid.New().String()
	}
	answerStatsJSON, err := json.Marshal(cons.AnswerStats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal answer stats")
	}
	urgencyStatsJSON, err := json.Marshal(cons.UrgencyStats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal urgency stats")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin close consensus")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO consensus
		 (id, case_id, artifact_id, final_answer, final_diagnosis, final_urgency,
		  patient_summary, patient_explanation, reviewer_notes, total_reviews,
		  answer_stats, urgency_stats, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		cons.ID, cons.CaseID, cons.ArtifactID, string(cons.FinalAnswer), cons.FinalDiagnosis,
		string(cons.FinalUrgency), cons.PatientSummary, cons.PatientExplanation,
		cons.ReviewerNotes, cons.TotalReviews, answerStatsJSON, urgencyStatsJSON, cons.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fault.Wrap(fault.KindConstraintViolation, err, "postgres: consensus already exists")
		}
		return eris.Wrap(err, "postgres: insert consensus")
	}

	_, err = tx.Exec(ctx,
		`UPDATE cases SET status = $1, closed_at = $2
		 WHERE id = $3 AND status NOT IN ('consensus_ready', 'closed')`,
		string(finalStatus), cons.ClosedAt, cons.CaseID)
	if err != nil {
		return eris.Wrap(err, "postgres: advance case on consensus")
	}

	_, err = tx.Exec(ctx,
		`UPDATE artifacts SET closed_at = $1 WHERE case_id = $2 AND closed_at IS NULL`,
		cons.ClosedAt, cons.CaseID)
	if err != nil {
		return eris.Wrap(err, "postgres: close artifact on consensus")
	}

	for i := range bonuses {
		b := &bonuses[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		metaJSON, err := json.Marshal(b.Meta)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal bonus meta")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO rewards (id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (reviewer_id, case_id, type) DO NOTHING`,
			b.ID, b.ReviewerID, b.CaseID, b.ReviewID, string(b.Type), b.AmountCents,
			b.Currency, string(b.Status), metaJSON, b.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "postgres: insert bonus")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit close consensus")
}

func (s *PostgresStore) GetConsensusByCase(ctx context.Context, caseID string) (*model.Consensus, error) {
	var c model.Consensus
	var finalAnswer, finalUrgency string
	var summary, explanation, notes *string
	var answerStatsJSON, urgencyStatsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, case_id, artifact_id, final_answer, final_diagnosis, final_urgency,
		        patient_summary, patient_explanation, reviewer_notes, total_reviews,
		        answer_stats, urgency_stats, closed_at
		 FROM consensus WHERE case_id = $1`,
		caseID,
	).Scan(&c.ID, &c.CaseID, &c.ArtifactID, &finalAnswer, &c.FinalDiagnosis, &finalUrgency,
		&summary, &explanation, &notes, &c.TotalReviews,
		&answerStatsJSON, &urgencyStatsJSON, &c.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get consensus for case %s", caseID)
	}

	c.FinalAnswer = model.AnswerKey(finalAnswer)
	c.FinalUrgency = model.Urgency(finalUrgency)
	if summary != nil {
		c.PatientSummary = *summary
	}
	if explanation != nil {
		c.PatientExplanation = *explanation
	}
	if notes != nil {
		c.ReviewerNotes = *notes
	}
	if err := json.Unmarshal(answerStatsJSON, &c.AnswerStats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal answer stats")
	}
	if err := json.Unmarshal(urgencyStatsJSON, &c.UrgencyStats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal urgency stats")
	}
	return &c, nil
}

// PostReward absorbs duplicate postings through the (reviewer, case, type)
// constraint; a second attempt is a no-op, never an error.
func (s *PostgresStore) PostReward(ctx context.Context, e *model.RewardEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reward meta")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rewards (id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (reviewer_id, case_id, type) DO NOTHING`,
		e.ID, e.ReviewerID, e.CaseID, e.ReviewID, string(e.Type), e.AmountCents,
		e.Currency, string(e.Status), metaJSON, e.CreatedAt)
	return eris.Wrap(err, "postgres: post reward")
}

func (s *PostgresStore) ListRewardsByReviewer(ctx context.Context, reviewerID string) ([]model.RewardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, reviewer_id, case_id, review_id, type, amount_cents, currency, status, meta, created_at
		 FROM rewards WHERE reviewer_id = $1 ORDER BY created_at DESC`,
		reviewerID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rewards")
	}
	defer rows.Close()

	var entries []model.RewardEntry
	for rows.Next() {
		var e model.RewardEntry
		var typ, status string
		var caseID, reviewID *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.ReviewerID, &caseID, &reviewID, &typ,
			&e.AmountCents, &e.Currency, &status, &metaJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reward")
		}
		e.Type = model.CreditType(typ)
		e.Status = model.RewardStatus(status)
		if caseID != nil {
			e.CaseID = *caseID
		}
		if reviewID != nil {
			e.ReviewID = *reviewID
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal reward meta")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list rewards iterate")
}
