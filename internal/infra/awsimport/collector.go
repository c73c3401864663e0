package awsimport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/bryanwahyu/permeo/internal/domain/iam"
)

// Collector reads a live account's authorization details into a Snapshot.
type Collector struct {
	client iamsvc.GetAccountAuthorizationDetailsAPIClient
	// IncludeAWSManaged also pulls AWS managed policies, which adds several
	// hundred entries to every snapshot.
	IncludeAWSManaged bool
}

func NewCollector(client iamsvc.GetAccountAuthorizationDetailsAPIClient) *Collector {
	return &Collector{client: client}
}

// NewFromProfile loads the shared AWS config for profile ("" for the default
// chain). IAM is global so the region only needs to be non-empty.
func NewFromProfile(ctx context.Context, profile string) (*Collector, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS profile %q: %w", profile, err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return NewCollector(iamsvc.NewFromConfig(cfg)), nil
}

func (c *Collector) filter() []types.EntityType {
	f := []types.EntityType{
		types.EntityTypeUser,
		types.EntityTypeRole,
		types.EntityTypeGroup,
		types.EntityTypeLocalManagedPolicy,
	}
	if c.IncludeAWSManaged {
		f = append(f, types.EntityTypeAWSManagedPolicy)
	}
	return f
}

// Collect walks every page of GetAccountAuthorizationDetails.
func (c *Collector) Collect(ctx context.Context) (*iam.Snapshot, error) {
	snap := iam.NewSnapshot()
	paginator := iamsvc.NewGetAccountAuthorizationDetailsPaginator(c.client, &iamsvc.GetAccountAuthorizationDetailsInput{
		Filter: c.filter(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get account authorization details: %w", err)
		}
		for _, u := range page.UserDetailList {
			user, err := convertUser(u)
			if err != nil {
				return nil, err
			}
			snap.Users[user.UserId] = user
		}
		for _, r := range page.RoleDetailList {
			role, err := convertRole(r)
			if err != nil {
				return nil, err
			}
			snap.Roles[role.RoleId] = role
		}
		for _, p := range page.Policies {
			pol, err := convertPolicy(p)
			if err != nil {
				return nil, err
			}
			snap.Policies[pol.PolicyId] = pol
		}
		for _, g := range page.GroupDetailList {
			group, err := convertGroup(g)
			if err != nil {
				return nil, err
			}
			snap.Groups[group.GroupId] = group
		}
	}
	return snap, nil
}

func convertUser(u types.UserDetail) (iam.User, error) {
	inline, err := inlinePolicies(u.UserPolicyList)
	if err != nil {
		return iam.User{}, fmt.Errorf("user %s: %w", aws.ToString(u.UserName), err)
	}
	groups := u.GroupList
	if groups == nil {
		groups = []string{}
	}
	return iam.User{
		UserId:                  aws.ToString(u.UserId),
		UserName:                aws.ToString(u.UserName),
		Arn:                     aws.ToString(u.Arn),
		CreateDate:              formatTime(u.CreateDate),
		AttachedManagedPolicies: attached(u.AttachedManagedPolicies),
		GroupList:               groups,
		UserPolicyList:          inline,
		Tags:                    tags(u.Tags),
	}, nil
}

func convertRole(r types.RoleDetail) (iam.Role, error) {
	inline, err := inlinePolicies(r.RolePolicyList)
	if err != nil {
		return iam.Role{}, fmt.Errorf("role %s: %w", aws.ToString(r.RoleName), err)
	}
	trust, err := decodeDocument(r.AssumeRolePolicyDocument)
	if err != nil {
		return iam.Role{}, fmt.Errorf("role %s trust policy: %w", aws.ToString(r.RoleName), err)
	}
	return iam.Role{
		RoleId:                   aws.ToString(r.RoleId),
		RoleName:                 aws.ToString(r.RoleName),
		Arn:                      aws.ToString(r.Arn),
		CreateDate:               formatTime(r.CreateDate),
		AssumeRolePolicyDocument: trust,
		AttachedManagedPolicies:  attached(r.AttachedManagedPolicies),
		RolePolicyList:           inline,
		Tags:                     tags(r.Tags),
	}, nil
}

func convertPolicy(p types.ManagedPolicyDetail) (iam.Policy, error) {
	versions := make([]iam.PolicyVersion, 0, len(p.PolicyVersionList))
	for _, v := range p.PolicyVersionList {
		doc, err := decodeDocument(v.Document)
		if err != nil {
			return iam.Policy{}, fmt.Errorf("policy %s version %s: %w", aws.ToString(p.PolicyName), aws.ToString(v.VersionId), err)
		}
		versions = append(versions, iam.PolicyVersion{
			Document:         doc,
			VersionId:        aws.ToString(v.VersionId),
			IsDefaultVersion: v.IsDefaultVersion,
			CreateDate:       formatTime(v.CreateDate),
		})
	}
	return iam.Policy{
		PolicyId:          aws.ToString(p.PolicyId),
		PolicyName:        aws.ToString(p.PolicyName),
		Arn:               aws.ToString(p.Arn),
		CreateDate:        formatTime(p.CreateDate),
		DefaultVersionId:  aws.ToString(p.DefaultVersionId),
		PolicyVersionList: versions,
		AttachmentCount:   int(aws.ToInt32(p.AttachmentCount)),
		IsAttachable:      p.IsAttachable,
		Description:       aws.ToString(p.Description),
	}, nil
}

func convertGroup(g types.GroupDetail) (iam.Group, error) {
	inline, err := inlinePolicies(g.GroupPolicyList)
	if err != nil {
		return iam.Group{}, fmt.Errorf("group %s: %w", aws.ToString(g.GroupName), err)
	}
	return iam.Group{
		GroupId:                 aws.ToString(g.GroupId),
		GroupName:               aws.ToString(g.GroupName),
		Arn:                     aws.ToString(g.Arn),
		CreateDate:              formatTime(g.CreateDate),
		AttachedManagedPolicies: attached(g.AttachedManagedPolicies),
		GroupPolicyList:         inline,
	}, nil
}

func attached(in []types.AttachedPolicy) []iam.AttachedPolicy {
	out := make([]iam.AttachedPolicy, 0, len(in))
	for _, a := range in {
		out = append(out, iam.AttachedPolicy{PolicyName: aws.ToString(a.PolicyName), PolicyArn: aws.ToString(a.PolicyArn)})
	}
	return out
}

func tags(in []types.Tag) []iam.Tag {
	out := make([]iam.Tag, 0, len(in))
	for _, t := range in {
		out = append(out, iam.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}

func inlinePolicies(in []types.PolicyDetail) ([]iam.InlinePolicy, error) {
	out := make([]iam.InlinePolicy, 0, len(in))
	for _, p := range in {
		doc, err := decodeDocument(p.PolicyDocument)
		if err != nil {
			return nil, fmt.Errorf("inline policy %s: %w", aws.ToString(p.PolicyName), err)
		}
		out = append(out, iam.InlinePolicy{PolicyName: aws.ToString(p.PolicyName), PolicyDocument: doc})
	}
	return out, nil
}

// decodeDocument undoes the RFC 3986 encoding IAM applies to policy documents.
func decodeDocument(raw *string) (map[string]any, error) {
	s := aws.ToString(raw)
	if s == "" {
		return map[string]any{}, nil
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return nil, fmt.Errorf("unescape document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
