package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/permeo/internal/domain/analysis"
	"github.com/bryanwahyu/permeo/internal/domain/iam"
)

// stepClock advances one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(context.Background(), SQLite, filepath.Join(t.TempDir(), "permeo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSnapshot() *iam.Snapshot {
	snap := iam.NewSnapshot()
	snap.Users["AIDA1"] = iam.User{
		UserId: "AIDA1", UserName: "alice", Arn: "arn:aws:iam::1:user/alice", CreateDate: "2024-01-01T00:00:00Z",
		AttachedManagedPolicies: []iam.AttachedPolicy{{PolicyName: "S3Full", PolicyArn: "arn:aws:iam::1:policy/S3Full"}},
		GroupList:               []string{"devs"},
		Tags:                    []iam.Tag{{Key: "team", Value: "core"}},
	}
	snap.Roles["AROA1"] = iam.Role{
		RoleId: "AROA1", RoleName: "deployer", Arn: "arn:aws:iam::1:role/deployer",
		AssumeRolePolicyDocument: map[string]any{"Version": "2012-10-17"},
	}
	snap.Policies["ANPA1"] = iam.Policy{
		PolicyId: "ANPA1", PolicyName: "S3Full", Arn: "arn:aws:iam::1:policy/S3Full", DefaultVersionId: "v1",
		PolicyVersionList: []iam.PolicyVersion{{VersionId: "v1", IsDefaultVersion: true, Document: map[string]any{"Version": "2012-10-17"}}},
		AttachmentCount:   1, IsAttachable: true,
	}
	snap.Groups["AGPA1"] = iam.Group{GroupId: "AGPA1", GroupName: "devs", Arn: "arn:aws:iam::1:group/devs"}
	return snap
}

func createUpload(t *testing.T, repo *UploadRepository, id string, at time.Time) {
	t.Helper()
	u := &iam.Upload{ID: id, Name: id, OriginalFilename: id + ".json", UploadedAt: at, Size: 42}
	require.NoError(t, repo.Create(context.Background(), u, testSnapshot()))
}

func TestUploadRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(openTestDB(t))
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	createUpload(t, repo, "u1", at)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1.json", got.OriginalFilename)
	assert.True(t, at.Equal(got.UploadedAt))

	snap, err := repo.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"devs"}, snap.Users["AIDA1"].GroupList)
	assert.Equal(t, "core", snap.Users["AIDA1"].Tags[0].Value)
	assert.Empty(t, snap.Users["AIDA1"].UserPolicyList)
	assert.Equal(t, "2012-10-17", snap.Roles["AROA1"].AssumeRolePolicyDocument["Version"])
	assert.True(t, snap.Policies["ANPA1"].IsAttachable)
	assert.Contains(t, snap.Groups, "AGPA1")

	pol, err := repo.GetPolicy(ctx, "u1", "ANPA1")
	require.NoError(t, err)
	assert.Equal(t, "v1", pol.PolicyVersionList[0].VersionId)

	_, err = repo.GetUser(ctx, "u1", "missing")
	assert.ErrorIs(t, err, iam.ErrResourceNotFound)
	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, iam.ErrUploadNotFound)
}

func TestUploadRepository_LatestID(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(openTestDB(t))

	_, ok, err := repo.LatestID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	createUpload(t, repo, "old", base)
	createUpload(t, repo, "new", base.Add(time.Hour))

	id, ok, err := repo.LatestID(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", id)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
}

func TestAnalysisRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	createUpload(t, NewUploadRepository(db), "u1", time.Now().UTC())
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := NewAnalysisRepository(db, clock)
	key := analysis.Key{UploadID: "u1", PolicyID: "ANPA1"}
	rationale := "narrower scope"
	rec := analysis.Recommendation{Recommendations: []string{"a", "b"}, Rationale: &rationale}

	first, err := repo.UpsertRecommendation(ctx, key, "S3Full", rec)
	require.NoError(t, err)
	require.NotNil(t, first.CreatedAt)
	assert.Nil(t, first.UpdatedAt)

	second, err := repo.UpsertRecommendation(ctx, key, "S3Full", rec)
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(*second.CreatedAt))
	require.NotNil(t, second.UpdatedAt)

	third, err := repo.UpsertRecommendation(ctx, key, "S3Full", analysis.Recommendation{Recommendations: []string{"c"}})
	require.NoError(t, err)
	assert.True(t, third.UpdatedAt.After(*second.UpdatedAt))

	stored, err := repo.GetRecommendation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, stored.Recommendations)
	assert.Nil(t, stored.Rationale)
	assert.True(t, first.CreatedAt.Equal(*stored.CreatedAt))
	assert.True(t, third.UpdatedAt.Equal(*stored.UpdatedAt))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_recommendations WHERE upload_id='u1' AND policy_id='ANPA1'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAnalysisRepository_ConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	createUpload(t, NewUploadRepository(db), "u1", time.Now().UTC())
	repo := NewAnalysisRepository(db, &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	key := analysis.Key{UploadID: "u1", PolicyID: "ANPA1"}

	const writers = 20
	written := make(map[string]bool, writers)
	results := make([]*analysis.RecommendationRecord, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		rec := fmt.Sprintf("rec-%02d", i)
		written[rec] = true
		wg.Add(1)
		go func(i int, rec string) {
			defer wg.Done()
			results[i], errs[i] = repo.UpsertRecommendation(ctx, key, "S3Full",
				analysis.Recommendation{Recommendations: []string{rec}})
		}(i, rec)
	}
	wg.Wait()

	inserts := 0
	for i := range errs {
		require.NoError(t, errs[i])
		if results[i].UpdatedAt == nil {
			inserts++
		}
	}
	assert.Equal(t, 1, inserts)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_recommendations WHERE upload_id='u1' AND policy_id='ANPA1'`).Scan(&n))
	assert.Equal(t, 1, n)

	stored, err := repo.GetRecommendation(ctx, key)
	require.NoError(t, err)
	require.Len(t, stored.Recommendations, 1)
	assert.True(t, written[stored.Recommendations[0]], stored.Recommendations[0])
}

func TestAnalysisRepository_PolicyAndAttackPath(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	createUpload(t, NewUploadRepository(db), "u1", time.Now().UTC())
	repo := NewAnalysisRepository(db, &stepClock{now: time.Now().UTC()})
	key := analysis.Key{UploadID: "u1", PolicyID: "ANPA1"}

	_, err := repo.GetRecommendedPolicy(ctx, key)
	assert.ErrorIs(t, err, analysis.ErrNotFound)

	doc := map[string]any{"Version": "2012-10-17", "Statement": []any{}}
	_, err = repo.UpsertRecommendedPolicy(ctx, key, "S3Full", analysis.RecommendedPolicy{PolicyDocument: doc})
	require.NoError(t, err)
	pol, err := repo.GetRecommendedPolicy(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, doc, pol.PolicyDocument)
	assert.Nil(t, pol.Explanation)

	assessment := "bad"
	ap := analysis.AttackPath{
		AttackScenarios: []analysis.Scenario{{Title: "t", Severity: analysis.SeverityHigh}},
		ImpactAssessment: &assessment,
	}
	_, err = repo.UpsertAttackPath(ctx, key, "S3Full", ap)
	require.NoError(t, err)
	got, err := repo.GetAttackPath(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.AttackScenarios, 1)
	assert.Equal(t, analysis.SeverityHigh, got.AttackScenarios[0].Severity)
	assert.NotNil(t, got.AttackScenarios[0].Steps)
	assert.Equal(t, "bad", *got.ImpactAssessment)
}

func TestAnalysisRepository_UnknownUpload(t *testing.T) {
	repo := NewAnalysisRepository(openTestDB(t), &stepClock{})
	_, err := repo.UpsertRecommendation(context.Background(), analysis.Key{UploadID: "ghost", PolicyID: "p"}, "p", analysis.Recommendation{})
	assert.ErrorIs(t, err, analysis.ErrNotFound)
}

func TestUploadRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uploads := NewUploadRepository(db)
	createUpload(t, uploads, "u1", time.Now().UTC())
	createUpload(t, uploads, "u2", time.Now().UTC())
	repo := NewAnalysisRepository(db, &stepClock{now: time.Now().UTC()})

	for _, id := range []string{"u1", "u2"} {
		key := analysis.Key{UploadID: id, PolicyID: "ANPA1"}
		_, err := repo.UpsertRecommendation(ctx, key, "S3Full", analysis.Recommendation{Recommendations: []string{"x"}})
		require.NoError(t, err)
		_, err = repo.UpsertRecommendedPolicy(ctx, key, "S3Full", analysis.RecommendedPolicy{PolicyDocument: map[string]any{"Version": "2012-10-17"}})
		require.NoError(t, err)
		_, err = repo.UpsertAttackPath(ctx, key, "S3Full", analysis.AttackPath{})
		require.NoError(t, err)
	}

	require.NoError(t, uploads.Delete(ctx, "u1"))
	assert.ErrorIs(t, uploads.Delete(ctx, "u1"), iam.ErrUploadNotFound)

	gone := analysis.Key{UploadID: "u1", PolicyID: "ANPA1"}
	_, err := repo.GetRecommendation(ctx, gone)
	assert.ErrorIs(t, err, analysis.ErrNotFound)
	_, err = repo.GetRecommendedPolicy(ctx, gone)
	assert.ErrorIs(t, err, analysis.ErrNotFound)
	_, err = repo.GetAttackPath(ctx, gone)
	assert.ErrorIs(t, err, analysis.ErrNotFound)
	_, err = uploads.GetUser(ctx, "u1", "AIDA1")
	assert.ErrorIs(t, err, iam.ErrResourceNotFound)

	kept := analysis.Key{UploadID: "u2", PolicyID: "ANPA1"}
	_, err = repo.GetRecommendation(ctx, kept)
	assert.NoError(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a=$1 AND b=$2", Postgres.rebind("a=? AND b=?"))
	assert.Equal(t, "a=? AND b=?", MySQL.rebind("a=? AND b=?"))
	assert.Equal(t, "", SQLite.forUpdate())
	assert.Equal(t, " FOR UPDATE", MySQL.forUpdate())
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
