package analysis

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/permeo/internal/domain/analysis"
	"github.com/bryanwahyu/permeo/internal/logger"
)

// Analysis kinds, used for logs and metrics.
const (
	KindRecommendations   = "recommendations"
	KindRecommendedPolicy = "recommended_policy"
	KindAttackPath        = "attack_path"
)

// Recorder counts generation outcomes.
type Recorder interface {
	Generated(kind string)
	Degraded(kind string)
	Failed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Generated(string) {}
func (nopRecorder) Degraded(string)  {}
func (nopRecorder) Failed(string)    {}

// Options are shared by the three coordinators.
type Options struct {
	Disabled  bool
	Uploads   domain.CurrentUploadResolver
	Generator *Generator
	Logger    *logger.Logger
	Metrics   Recorder
}

type base struct {
	Options
	kind string
}

func newBase(kind string, o Options) base {
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopRecorder{}
	}
	return base{Options: o, kind: kind}
}

func (b *base) enabled() error {
	if b.Disabled {
		return domain.ErrFeatureDisabled
	}
	return nil
}

func (b *base) checkContext(pc domain.PolicyContext) error {
	if strings.TrimSpace(pc.PolicyID) == "" {
		return fmt.Errorf("%w: policy_id is required", domain.ErrInvalidInput)
	}
	return nil
}

func checkKey(key domain.Key, policyName string) error {
	switch {
	case strings.TrimSpace(key.UploadID) == "":
		return fmt.Errorf("%w: upload_id is required", domain.ErrInvalidInput)
	case strings.TrimSpace(key.PolicyID) == "":
		return fmt.Errorf("%w: policy_id is required", domain.ErrInvalidInput)
	case strings.TrimSpace(policyName) == "":
		return fmt.Errorf("%w: policy_name is required", domain.ErrInvalidInput)
	}
	return nil
}

// currentUpload returns "" when there is nothing to attach the result to.
func (b *base) currentUpload(ctx context.Context, policyID string) (string, error) {
	id, ok, err := b.Uploads.CurrentUploadID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current upload: %w", err)
	}
	if !ok {
		b.Logger.Warn("no current upload; result not stored", "kind", b.kind, "policy_id", policyID)
		return "", nil
	}
	return id, nil
}

func (b *base) record(err error, degraded bool, policyID string) {
	switch {
	case err != nil:
		b.Metrics.Failed(b.kind)
		b.Logger.Error("generation failed", "kind", b.kind, "policy_id", policyID, "error", err)
	case degraded:
		b.Metrics.Degraded(b.kind)
		b.Logger.Warn("model reply was unstructured; stored fallback", "kind", b.kind, "policy_id", policyID)
	default:
		b.Metrics.Generated(b.kind)
	}
}

// RecommendationService coordinates bullet recommendations.
type RecommendationService struct {
	base
	Repo domain.RecommendationRepository
}

func NewRecommendationService(o Options, repo domain.RecommendationRepository) *RecommendationService {
	return &RecommendationService{base: newBase(KindRecommendations, o), Repo: repo}
}

// GenerateAndStore asks the model and upserts the result under the current
// upload. With no current upload the result is returned unstored.
func (s *RecommendationService) GenerateAndStore(ctx context.Context, pc domain.PolicyContext) (*domain.RecommendationRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := s.checkContext(pc); err != nil {
		return nil, err
	}
	rec, err := s.Generator.Recommendations(ctx, pc)
	s.record(err, err == nil && len(rec.Recommendations) == 0, pc.PolicyID)
	if err != nil {
		return nil, err
	}

	uploadID, err := s.currentUpload(ctx, pc.PolicyID)
	if err != nil {
		return nil, err
	}
	if uploadID == "" {
		return &domain.RecommendationRecord{
			Key:            domain.Key{PolicyID: pc.PolicyID},
			PolicyName:     pc.PolicyName,
			Recommendation: rec,
		}, nil
	}
	return s.Repo.UpsertRecommendation(ctx, domain.Key{UploadID: uploadID, PolicyID: pc.PolicyID}, pc.PolicyName, rec)
}

// Regenerate is GenerateAndStore; the returned record carries the fresh timestamps.
func (s *RecommendationService) Regenerate(ctx context.Context, pc domain.PolicyContext) (*domain.RecommendationRecord, error) {
	return s.GenerateAndStore(ctx, pc)
}

func (s *RecommendationService) Get(ctx context.Context, key domain.Key) (*domain.RecommendationRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	return s.Repo.GetRecommendation(ctx, key)
}

// Persist stores a caller-supplied payload without calling the model.
func (s *RecommendationService) Persist(ctx context.Context, key domain.Key, policyName string, rec domain.Recommendation) (*domain.RecommendationRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := checkKey(key, policyName); err != nil {
		return nil, err
	}
	if len(rec.Recommendations) > domain.MaxRecommendations {
		return nil, fmt.Errorf("%w: at most %d recommendations", domain.ErrInvalidInput, domain.MaxRecommendations)
	}
	if rec.Recommendations == nil {
		rec.Recommendations = []string{}
	}
	return s.Repo.UpsertRecommendation(ctx, key, policyName, rec)
}

// RecommendedPolicyService coordinates hardened policy rewrites.
type RecommendedPolicyService struct {
	base
	Repo domain.RecommendedPolicyRepository
}

func NewRecommendedPolicyService(o Options, repo domain.RecommendedPolicyRepository) *RecommendedPolicyService {
	return &RecommendedPolicyService{base: newBase(KindRecommendedPolicy, o), Repo: repo}
}

// GenerateAndStore fails with ErrMalformedModelOutput when the reply holds no
// policy document; nothing is stored in that case.
func (s *RecommendedPolicyService) GenerateAndStore(ctx context.Context, pc domain.PolicyContext) (*domain.RecommendedPolicyRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := s.checkContext(pc); err != nil {
		return nil, err
	}
	pol, err := s.Generator.RecommendedPolicy(ctx, pc)
	s.record(err, false, pc.PolicyID)
	if err != nil {
		return nil, err
	}

	uploadID, err := s.currentUpload(ctx, pc.PolicyID)
	if err != nil {
		return nil, err
	}
	if uploadID == "" {
		return &domain.RecommendedPolicyRecord{
			Key:               domain.Key{PolicyID: pc.PolicyID},
			PolicyName:        pc.PolicyName,
			RecommendedPolicy: pol,
		}, nil
	}
	return s.Repo.UpsertRecommendedPolicy(ctx, domain.Key{UploadID: uploadID, PolicyID: pc.PolicyID}, pc.PolicyName, pol)
}

func (s *RecommendedPolicyService) Regenerate(ctx context.Context, pc domain.PolicyContext) (*domain.RecommendedPolicyRecord, error) {
	return s.GenerateAndStore(ctx, pc)
}

func (s *RecommendedPolicyService) Get(ctx context.Context, key domain.Key) (*domain.RecommendedPolicyRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	return s.Repo.GetRecommendedPolicy(ctx, key)
}

func (s *RecommendedPolicyService) Persist(ctx context.Context, key domain.Key, policyName string, pol domain.RecommendedPolicy) (*domain.RecommendedPolicyRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := checkKey(key, policyName); err != nil {
		return nil, err
	}
	if pol.PolicyDocument == nil {
		return nil, fmt.Errorf("%w: policy_document is required", domain.ErrInvalidInput)
	}
	return s.Repo.UpsertRecommendedPolicy(ctx, key, policyName, pol)
}

// AttackPathService coordinates attack-path narratives.
type AttackPathService struct {
	base
	Repo domain.AttackPathRepository
}

func NewAttackPathService(o Options, repo domain.AttackPathRepository) *AttackPathService {
	return &AttackPathService{base: newBase(KindAttackPath, o), Repo: repo}
}

func (s *AttackPathService) GenerateAndStore(ctx context.Context, pc domain.PolicyContext) (*domain.AttackPathRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := s.checkContext(pc); err != nil {
		return nil, err
	}
	ap, err := s.Generator.AttackPath(ctx, pc)
	s.record(err, err == nil && isFallback(ap), pc.PolicyID)
	if err != nil {
		return nil, err
	}

	uploadID, err := s.currentUpload(ctx, pc.PolicyID)
	if err != nil {
		return nil, err
	}
	if uploadID == "" {
		return &domain.AttackPathRecord{
			Key:        domain.Key{PolicyID: pc.PolicyID},
			PolicyName: pc.PolicyName,
			AttackPath: ap,
		}, nil
	}
	return s.Repo.UpsertAttackPath(ctx, domain.Key{UploadID: uploadID, PolicyID: pc.PolicyID}, pc.PolicyName, ap)
}

func (s *AttackPathService) Regenerate(ctx context.Context, pc domain.PolicyContext) (*domain.AttackPathRecord, error) {
	return s.GenerateAndStore(ctx, pc)
}

func (s *AttackPathService) Get(ctx context.Context, key domain.Key) (*domain.AttackPathRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	return s.Repo.GetAttackPath(ctx, key)
}

func (s *AttackPathService) Persist(ctx context.Context, key domain.Key, policyName string, ap domain.AttackPath) (*domain.AttackPathRecord, error) {
	if err := s.enabled(); err != nil {
		return nil, err
	}
	if err := checkKey(key, policyName); err != nil {
		return nil, err
	}
	if ap.AttackScenarios == nil {
		ap.AttackScenarios = []domain.Scenario{}
	}
	for i := range ap.AttackScenarios {
		sc := &ap.AttackScenarios[i]
		sc.Severity = domain.NormalizeSeverity(string(sc.Severity))
		if sc.Steps == nil {
			sc.Steps = []domain.Step{}
		}
	}
	return s.Repo.UpsertAttackPath(ctx, key, policyName, ap)
}

func isFallback(ap domain.AttackPath) bool {
	if ap.ImpactAssessment == nil {
		return false
	}
	a := *ap.ImpactAssessment
	return a == domain.UnstructuredAssessment || a == domain.RawAnalysisAssessment
}
