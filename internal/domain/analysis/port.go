package analysis

import "context"

// Repositories upsert by Key: at most one row per (upload_id, policy_id).
// Get returns ErrNotFound when nothing is stored.

type RecommendationRepository interface {
	UpsertRecommendation(ctx context.Context, key Key, policyName string, rec Recommendation) (*RecommendationRecord, error)
	GetRecommendation(ctx context.Context, key Key) (*RecommendationRecord, error)
}

type RecommendedPolicyRepository interface {
	UpsertRecommendedPolicy(ctx context.Context, key Key, policyName string, pol RecommendedPolicy) (*RecommendedPolicyRecord, error)
	GetRecommendedPolicy(ctx context.Context, key Key) (*RecommendedPolicyRecord, error)
}

type AttackPathRepository interface {
	UpsertAttackPath(ctx context.Context, key Key, policyName string, ap AttackPath) (*AttackPathRecord, error)
	GetAttackPath(ctx context.Context, key Key) (*AttackPathRecord, error)
}

// CurrentUploadResolver names the upload that new analyses attach to.
// ok is false when no upload exists.
type CurrentUploadResolver interface {
	CurrentUploadID(ctx context.Context) (id string, ok bool, err error)
}
