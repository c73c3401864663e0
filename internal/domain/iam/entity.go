package iam

import "time"

// Upload is one ingested IAM snapshot.
type Upload struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OriginalFilename string    `json:"original_filename"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Size             int64     `json:"size"`
	ArchiveURL       string    `json:"archive_url,omitempty"`
}

// The entity shapes follow the AWS GetAccountAuthorizationDetails JSON so an
// upload can be rendered back exactly as it was sent.

type AttachedPolicy struct {
	PolicyName string `json:"PolicyName"`
	PolicyArn  string `json:"PolicyArn"`
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// InlinePolicy is a policy embedded in a user, role or group.
type InlinePolicy struct {
	PolicyName     string         `json:"PolicyName"`
	PolicyDocument map[string]any `json:"PolicyDocument"`
}

type PolicyVersion struct {
	Document         map[string]any `json:"Document"`
	VersionId        string         `json:"VersionId"`
	IsDefaultVersion bool           `json:"IsDefaultVersion"`
	CreateDate       string         `json:"CreateDate"`
}

type User struct {
	UserId                  string           `json:"UserId"`
	UserName                string           `json:"UserName"`
	Arn                     string           `json:"Arn"`
	CreateDate              string           `json:"CreateDate"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
	GroupList               []string         `json:"GroupList"`
	UserPolicyList          []InlinePolicy   `json:"UserPolicyList"`
	Tags                    []Tag            `json:"Tags"`
}

type Role struct {
	RoleId                   string           `json:"RoleId"`
	RoleName                 string           `json:"RoleName"`
	Arn                      string           `json:"Arn"`
	CreateDate               string           `json:"CreateDate"`
	AssumeRolePolicyDocument map[string]any   `json:"AssumeRolePolicyDocument"`
	AttachedManagedPolicies  []AttachedPolicy `json:"AttachedManagedPolicies"`
	RolePolicyList           []InlinePolicy   `json:"RolePolicyList"`
	Tags                     []Tag            `json:"Tags"`
}

type Policy struct {
	PolicyId          string          `json:"PolicyId"`
	PolicyName        string          `json:"PolicyName"`
	Arn               string          `json:"Arn"`
	CreateDate        string          `json:"CreateDate"`
	DefaultVersionId  string          `json:"DefaultVersionId"`
	PolicyVersionList []PolicyVersion `json:"PolicyVersionList"`
	AttachmentCount   int             `json:"AttachmentCount"`
	IsAttachable      bool            `json:"IsAttachable"`
	Description       string          `json:"Description"`
}

type Group struct {
	GroupId                 string           `json:"GroupId"`
	GroupName               string           `json:"GroupName"`
	Arn                     string           `json:"Arn"`
	CreateDate              string           `json:"CreateDate"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
	GroupPolicyList         []InlinePolicy   `json:"GroupPolicyList"`
}

// Snapshot is the processed form of an IAM export, keyed by entity id.
type Snapshot struct {
	Users    map[string]User   `json:"users"`
	Roles    map[string]Role   `json:"roles"`
	Policies map[string]Policy `json:"policies"`
	Groups   map[string]Group  `json:"groups"`
}

// NewSnapshot returns a snapshot with every map allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users:    map[string]User{},
		Roles:    map[string]Role{},
		Policies: map[string]Policy{},
		Groups:   map[string]Group{},
	}
}
