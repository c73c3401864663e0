package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/permeo/internal/domain/analysis"
)

// Clock supplies created_at/updated_at.
type Clock interface {
	Now() time.Time
}

// AnalysisRepository keeps one row per (upload_id, policy_id) for each of the
// three analysis kinds.
type AnalysisRepository struct {
	db    *DB
	clock Clock
}

func NewAnalysisRepository(db *DB, clock Clock) *AnalysisRepository {
	return &AnalysisRepository{db: db, clock: clock}
}

// analysisTable describes the two payload columns of one analysis table.
type analysisTable struct {
	name    string
	payload string // JSON column
	note    string // nullable text column
}

var (
	recommendationsTable = analysisTable{name: "llm_recommendations", payload: "recommendations", note: "rationale"}
	rewritesTable        = analysisTable{name: "recommended_policies", payload: "policy_document", note: "explanation"}
	attackPathsTable     = analysisTable{name: "attack_paths", payload: "attack_scenarios", note: "impact_assessment"}
)

// upsert overwrites the row for key or inserts it. Two writers racing on a
// new key both miss the SELECT; the loser's INSERT hits the unique index and
// is retried once as an UPDATE, so the last write wins.
func (r *AnalysisRepository) upsert(ctx context.Context, t analysisTable, key analysis.Key, policyName, payload string, note *string) (analysis.Stamps, error) {
	stamps, err := r.upsertOnce(ctx, t, key, policyName, payload, note)
	var ie *insertError
	if errors.As(err, &ie) {
		stamps, err = r.upsertOnce(ctx, t, key, policyName, payload, note)
	}
	return stamps, err
}

type insertError struct{ err error }

func (e *insertError) Error() string { return "insert: " + e.err.Error() }
func (e *insertError) Unwrap() error { return e.err }

func (r *AnalysisRepository) upsertOnce(ctx context.Context, t analysisTable, key analysis.Key, policyName, payload string, note *string) (analysis.Stamps, error) {
	d := r.db.Dialect
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return analysis.Stamps{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := r.clock.Now().UTC()

	var (
		id      int64
		created time.Time
	)
	err = tx.QueryRowContext(ctx,
		d.rebind(`SELECT id, created_at FROM `+t.name+` WHERE upload_id=? AND policy_id=?`+d.forUpdate()),
		key.UploadID, key.PolicyID,
	).Scan(&id, &created)

	var stamps analysis.Stamps
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var one int
		err = tx.QueryRowContext(ctx, d.rebind(`SELECT 1 FROM uploads WHERE id=?`), key.UploadID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return analysis.Stamps{}, fmt.Errorf("upload %s: %w", key.UploadID, analysis.ErrNotFound)
		}
		if err != nil {
			return analysis.Stamps{}, err
		}
		_, err = tx.ExecContext(ctx,
			d.rebind(`INSERT INTO `+t.name+` (upload_id, policy_id, policy_name, `+t.payload+`, `+t.note+`, created_at) VALUES (?,?,?,?,?,?)`),
			key.UploadID, key.PolicyID, policyName, payload, nullString(note), now,
		)
		if err != nil {
			return analysis.Stamps{}, &insertError{err: err}
		}
		stamps = analysis.Stamps{CreatedAt: &now}
	case err != nil:
		return analysis.Stamps{}, fmt.Errorf("select %s: %w", t.name, err)
	default:
		_, err = tx.ExecContext(ctx,
			d.rebind(`UPDATE `+t.name+` SET policy_name=?, `+t.payload+`=?, `+t.note+`=?, updated_at=? WHERE id=?`),
			policyName, payload, nullString(note), now, id,
		)
		if err != nil {
			return analysis.Stamps{}, fmt.Errorf("update %s: %w", t.name, err)
		}
		created = created.UTC()
		stamps = analysis.Stamps{CreatedAt: &created, UpdatedAt: &now}
	}

	if err := tx.Commit(); err != nil {
		return analysis.Stamps{}, err
	}
	return stamps, nil
}

type storedRow struct {
	policyName string
	payload    []byte
	note       *string
	stamps     analysis.Stamps
}

func (r *AnalysisRepository) fetch(ctx context.Context, t analysisTable, key analysis.Key) (*storedRow, error) {
	var (
		row              storedRow
		note             sql.NullString
		created, updated sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		r.db.Dialect.rebind(`SELECT policy_name, `+t.payload+`, `+t.note+`, created_at, updated_at FROM `+t.name+` WHERE upload_id=? AND policy_id=?`),
		key.UploadID, key.PolicyID,
	).Scan(&row.policyName, &row.payload, &note, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	row.note = stringPtr(note)
	row.stamps = analysis.Stamps{CreatedAt: timePtr(created), UpdatedAt: timePtr(updated)}
	return &row, nil
}

func (r *AnalysisRepository) UpsertRecommendation(ctx context.Context, key analysis.Key, policyName string, rec analysis.Recommendation) (*analysis.RecommendationRecord, error) {
	payload, err := toJSON(rec.Recommendations, "[]")
	if err != nil {
		return nil, err
	}
	stamps, err := r.upsert(ctx, recommendationsTable, key, policyName, payload, rec.Rationale)
	if err != nil {
		return nil, err
	}
	rec.Recommendations = emptyIfNil(rec.Recommendations)
	return &analysis.RecommendationRecord{Key: key, PolicyName: policyName, Recommendation: rec, Stamps: stamps}, nil
}

func (r *AnalysisRepository) GetRecommendation(ctx context.Context, key analysis.Key) (*analysis.RecommendationRecord, error) {
	row, err := r.fetch(ctx, recommendationsTable, key)
	if err != nil {
		return nil, err
	}
	out := &analysis.RecommendationRecord{Key: key, PolicyName: row.policyName, Stamps: row.stamps}
	if err := fromJSON(row.payload, &out.Recommendations); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	out.Recommendations = emptyIfNil(out.Recommendations)
	out.Rationale = row.note
	return out, nil
}

func (r *AnalysisRepository) UpsertRecommendedPolicy(ctx context.Context, key analysis.Key, policyName string, pol analysis.RecommendedPolicy) (*analysis.RecommendedPolicyRecord, error) {
	payload, err := toJSON(pol.PolicyDocument, "{}")
	if err != nil {
		return nil, err
	}
	stamps, err := r.upsert(ctx, rewritesTable, key, policyName, payload, pol.Explanation)
	if err != nil {
		return nil, err
	}
	if pol.PolicyDocument == nil {
		pol.PolicyDocument = map[string]any{}
	}
	return &analysis.RecommendedPolicyRecord{Key: key, PolicyName: policyName, RecommendedPolicy: pol, Stamps: stamps}, nil
}

func (r *AnalysisRepository) GetRecommendedPolicy(ctx context.Context, key analysis.Key) (*analysis.RecommendedPolicyRecord, error) {
	row, err := r.fetch(ctx, rewritesTable, key)
	if err != nil {
		return nil, err
	}
	out := &analysis.RecommendedPolicyRecord{Key: key, PolicyName: row.policyName, Stamps: row.stamps}
	if err := fromJSON(row.payload, &out.PolicyDocument); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	if out.PolicyDocument == nil {
		out.PolicyDocument = map[string]any{}
	}
	out.Explanation = row.note
	return out, nil
}

func (r *AnalysisRepository) UpsertAttackPath(ctx context.Context, key analysis.Key, policyName string, ap analysis.AttackPath) (*analysis.AttackPathRecord, error) {
	ap.AttackScenarios = emptyIfNil(ap.AttackScenarios)
	for i := range ap.AttackScenarios {
		ap.AttackScenarios[i].Steps = emptyIfNil(ap.AttackScenarios[i].Steps)
	}
	payload, err := toJSON(ap.AttackScenarios, "[]")
	if err != nil {
		return nil, err
	}
	stamps, err := r.upsert(ctx, attackPathsTable, key, policyName, payload, ap.ImpactAssessment)
	if err != nil {
		return nil, err
	}
	return &analysis.AttackPathRecord{Key: key, PolicyName: policyName, AttackPath: ap, Stamps: stamps}, nil
}

func (r *AnalysisRepository) GetAttackPath(ctx context.Context, key analysis.Key) (*analysis.AttackPathRecord, error) {
	row, err := r.fetch(ctx, attackPathsTable, key)
	if err != nil {
		return nil, err
	}
	out := &analysis.AttackPathRecord{Key: key, PolicyName: row.policyName, Stamps: row.stamps}
	if err := fromJSON(row.payload, &out.AttackScenarios); err != nil {
		return nil, fmt.Errorf("decode attack scenarios: %w", err)
	}
	out.AttackScenarios = emptyIfNil(out.AttackScenarios)
	for i := range out.AttackScenarios {
		out.AttackScenarios[i].Steps = emptyIfNil(out.AttackScenarios[i].Steps)
	}
	out.ImpactAssessment = row.note
	return out, nil
}
