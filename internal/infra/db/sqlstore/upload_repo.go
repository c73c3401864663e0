package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryanwahyu/permeo/internal/domain/iam"
)

// UploadRepository stores uploads and the IAM entities parsed out of them.
type UploadRepository struct {
	db *DB
}

func NewUploadRepository(db *DB) *UploadRepository { return &UploadRepository{db: db} }

func (r *UploadRepository) q(s string) string { return r.db.Dialect.rebind(s) }

// Create writes the upload row and every entity of snap in one transaction.
func (r *UploadRepository) Create(ctx context.Context, u *iam.Upload, snap *iam.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var archive sql.NullString
	if u.ArchiveURL != "" {
		archive = sql.NullString{String: u.ArchiveURL, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, r.q(`
INSERT INTO uploads (id, name, original_filename, uploaded_at, size, archive_url)
VALUES (?,?,?,?,?,?)`),
		u.ID, u.Name, u.OriginalFilename, u.UploadedAt.UTC(), u.Size, archive,
	); err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	if snap == nil {
		return tx.Commit()
	}
	for _, usr := range snap.Users {
		if err := r.insertUser(ctx, tx, u.ID, usr); err != nil {
			return err
		}
	}
	for _, role := range snap.Roles {
		if err := r.insertRole(ctx, tx, u.ID, role); err != nil {
			return err
		}
	}
	for _, pol := range snap.Policies {
		if err := r.insertPolicy(ctx, tx, u.ID, pol); err != nil {
			return err
		}
	}
	for _, g := range snap.Groups {
		if err := r.insertGroup(ctx, tx, u.ID, g); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *UploadRepository) insertUser(ctx context.Context, tx *sql.Tx, uploadID string, u iam.User) error {
	attached, err := toJSON(u.AttachedManagedPolicies, "[]")
	if err != nil {
		return err
	}
	groups, err := toJSON(u.GroupList, "[]")
	if err != nil {
		return err
	}
	inline, err := toJSON(u.UserPolicyList, "[]")
	if err != nil {
		return err
	}
	tags, err := toJSON(u.Tags, "[]")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`
INSERT INTO iam_users
  (upload_id, user_id, user_name, arn, create_date, attached_managed_policies, group_list, user_policy_list, tags)
VALUES (?,?,?,?,?,?,?,?,?)`),
		uploadID, u.UserId, u.UserName, u.Arn, u.CreateDate, attached, groups, inline, tags)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.UserId, err)
	}
	return nil
}

func (r *UploadRepository) insertRole(ctx context.Context, tx *sql.Tx, uploadID string, role iam.Role) error {
	trust, err := toJSON(role.AssumeRolePolicyDocument, "{}")
	if err != nil {
		return err
	}
	attached, err := toJSON(role.AttachedManagedPolicies, "[]")
	if err != nil {
		return err
	}
	inline, err := toJSON(role.RolePolicyList, "[]")
	if err != nil {
		return err
	}
	tags, err := toJSON(role.Tags, "[]")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`
INSERT INTO iam_roles
  (upload_id, role_id, role_name, arn, create_date, assume_role_policy_document, attached_managed_policies, role_policy_list, tags)
VALUES (?,?,?,?,?,?,?,?,?)`),
		uploadID, role.RoleId, role.RoleName, role.Arn, role.CreateDate, trust, attached, inline, tags)
	if err != nil {
		return fmt.Errorf("insert role %s: %w", role.RoleId, err)
	}
	return nil
}

func (r *UploadRepository) insertPolicy(ctx context.Context, tx *sql.Tx, uploadID string, p iam.Policy) error {
	versions, err := toJSON(p.PolicyVersionList, "[]")
	if err != nil {
		return err
	}
	var desc sql.NullString
	if p.Description != "" {
		desc = sql.NullString{String: p.Description, Valid: true}
	}
	_, err = tx.ExecContext(ctx, r.q(`
INSERT INTO iam_policies
  (upload_id, policy_id, policy_name, arn, create_date, default_version_id, policy_version_list, attachment_count, is_attachable, description)
VALUES (?,?,?,?,?,?,?,?,?,?)`),
		uploadID, p.PolicyId, p.PolicyName, p.Arn, p.CreateDate, p.DefaultVersionId, versions, p.AttachmentCount, p.IsAttachable, desc)
	if err != nil {
		return fmt.Errorf("insert policy %s: %w", p.PolicyId, err)
	}
	return nil
}

func (r *UploadRepository) insertGroup(ctx context.Context, tx *sql.Tx, uploadID string, g iam.Group) error {
	attached, err := toJSON(g.AttachedManagedPolicies, "[]")
	if err != nil {
		return err
	}
	inline, err := toJSON(g.GroupPolicyList, "[]")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`
INSERT INTO iam_groups
  (upload_id, group_id, group_name, arn, create_date, attached_managed_policies, group_policy_list)
VALUES (?,?,?,?,?,?,?)`),
		uploadID, g.GroupId, g.GroupName, g.Arn, g.CreateDate, attached, inline)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupId, err)
	}
	return nil
}

const uploadColumns = `id, name, original_filename, uploaded_at, size, archive_url`

func scanUpload(row interface{ Scan(...any) error }) (*iam.Upload, error) {
	var u iam.Upload
	var archive sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &u.OriginalFilename, &u.UploadedAt, &u.Size, &archive); err != nil {
		return nil, err
	}
	u.UploadedAt = u.UploadedAt.UTC()
	u.ArchiveURL = archive.String
	return &u, nil
}

// List returns uploads newest first.
func (r *UploadRepository) List(ctx context.Context) ([]*iam.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*iam.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UploadRepository) Get(ctx context.Context, id string) (*iam.Upload, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+uploadColumns+` FROM uploads WHERE id=?`), id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrUploadNotFound
	}
	return u, err
}

// LatestID picks the upload with the newest uploaded_at, ties broken by id.
func (r *UploadRepository) LatestID(ctx context.Context) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM uploads ORDER BY uploaded_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Delete removes child rows first, then the upload, in one transaction.
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range uploadChildren {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE upload_id=?`), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM uploads WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return iam.ErrUploadNotFound
	}
	return tx.Commit()
}

// Snapshot rebuilds the processed snapshot of one upload.
func (r *UploadRepository) Snapshot(ctx context.Context, id string) (*iam.Snapshot, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	snap := iam.NewSnapshot()

	users, err := r.queryUsers(ctx, `WHERE upload_id=?`, id)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		snap.Users[u.UserId] = *u
	}
	roles, err := r.queryRoles(ctx, `WHERE upload_id=?`, id)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		snap.Roles[role.RoleId] = *role
	}
	policies, err := r.queryPolicies(ctx, `WHERE upload_id=?`, id)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		snap.Policies[p.PolicyId] = *p
	}
	groups, err := r.queryGroups(ctx, `WHERE upload_id=?`, id)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		snap.Groups[g.GroupId] = *g
	}
	return snap, nil
}

func (r *UploadRepository) GetUser(ctx context.Context, uploadID, userID string) (*iam.User, error) {
	out, err := r.queryUsers(ctx, `WHERE upload_id=? AND user_id=?`, uploadID, userID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, iam.ErrResourceNotFound
	}
	return out[0], nil
}

func (r *UploadRepository) GetRole(ctx context.Context, uploadID, roleID string) (*iam.Role, error) {
	out, err := r.queryRoles(ctx, `WHERE upload_id=? AND role_id=?`, uploadID, roleID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, iam.ErrResourceNotFound
	}
	return out[0], nil
}

func (r *UploadRepository) GetPolicy(ctx context.Context, uploadID, policyID string) (*iam.Policy, error) {
	out, err := r.queryPolicies(ctx, `WHERE upload_id=? AND policy_id=?`, uploadID, policyID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, iam.ErrResourceNotFound
	}
	return out[0], nil
}

func (r *UploadRepository) GetGroup(ctx context.Context, uploadID, groupID string) (*iam.Group, error) {
	out, err := r.queryGroups(ctx, `WHERE upload_id=? AND group_id=?`, uploadID, groupID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, iam.ErrResourceNotFound
	}
	return out[0], nil
}

func (r *UploadRepository) queryUsers(ctx context.Context, where string, args ...any) ([]*iam.User, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT user_id, user_name, arn, create_date, attached_managed_policies, group_list, user_policy_list, tags
FROM iam_users `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*iam.User
	for rows.Next() {
		var u iam.User
		var attached, groups, inline, tags []byte
		if err := rows.Scan(&u.UserId, &u.UserName, &u.Arn, &u.CreateDate, &attached, &groups, &inline, &tags); err != nil {
			return nil, err
		}
		if err := decodeAll(
			jsonField{attached, &u.AttachedManagedPolicies},
			jsonField{groups, &u.GroupList},
			jsonField{inline, &u.UserPolicyList},
			jsonField{tags, &u.Tags},
		); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", u.UserId, err)
		}
		u.AttachedManagedPolicies = emptyIfNil(u.AttachedManagedPolicies)
		u.GroupList = emptyIfNil(u.GroupList)
		u.UserPolicyList = emptyIfNil(u.UserPolicyList)
		u.Tags = emptyIfNil(u.Tags)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *UploadRepository) queryRoles(ctx context.Context, where string, args ...any) ([]*iam.Role, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT role_id, role_name, arn, create_date, assume_role_policy_document, attached_managed_policies, role_policy_list, tags
FROM iam_roles `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*iam.Role
	for rows.Next() {
		var role iam.Role
		var trust, attached, inline, tags []byte
		if err := rows.Scan(&role.RoleId, &role.RoleName, &role.Arn, &role.CreateDate, &trust, &attached, &inline, &tags); err != nil {
			return nil, err
		}
		if err := decodeAll(
			jsonField{trust, &role.AssumeRolePolicyDocument},
			jsonField{attached, &role.AttachedManagedPolicies},
			jsonField{inline, &role.RolePolicyList},
			jsonField{tags, &role.Tags},
		); err != nil {
			return nil, fmt.Errorf("decode role %s: %w", role.RoleId, err)
		}
		role.AttachedManagedPolicies = emptyIfNil(role.AttachedManagedPolicies)
		role.RolePolicyList = emptyIfNil(role.RolePolicyList)
		role.Tags = emptyIfNil(role.Tags)
		out = append(out, &role)
	}
	return out, rows.Err()
}

func (r *UploadRepository) queryPolicies(ctx context.Context, where string, args ...any) ([]*iam.Policy, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT policy_id, policy_name, arn, create_date, default_version_id, policy_version_list, attachment_count, is_attachable, description
FROM iam_policies `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*iam.Policy
	for rows.Next() {
		var p iam.Policy
		var versions []byte
		var desc sql.NullString
		if err := rows.Scan(&p.PolicyId, &p.PolicyName, &p.Arn, &p.CreateDate, &p.DefaultVersionId, &versions, &p.AttachmentCount, &p.IsAttachable, &desc); err != nil {
			return nil, err
		}
		if err := fromJSON(versions, &p.PolicyVersionList); err != nil {
			return nil, fmt.Errorf("decode policy %s: %w", p.PolicyId, err)
		}
		p.PolicyVersionList = emptyIfNil(p.PolicyVersionList)
		p.Description = desc.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *UploadRepository) queryGroups(ctx context.Context, where string, args ...any) ([]*iam.Group, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT group_id, group_name, arn, create_date, attached_managed_policies, group_policy_list
FROM iam_groups `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*iam.Group
	for rows.Next() {
		var g iam.Group
		var attached, inline []byte
		if err := rows.Scan(&g.GroupId, &g.GroupName, &g.Arn, &g.CreateDate, &attached, &inline); err != nil {
			return nil, err
		}
		if err := decodeAll(
			jsonField{attached, &g.AttachedManagedPolicies},
			jsonField{inline, &g.GroupPolicyList},
		); err != nil {
			return nil, fmt.Errorf("decode group %s: %w", g.GroupId, err)
		}
		g.AttachedManagedPolicies = emptyIfNil(g.AttachedManagedPolicies)
		g.GroupPolicyList = emptyIfNil(g.GroupPolicyList)
		out = append(out, &g)
	}
	return out, rows.Err()
}

type jsonField struct {
	raw []byte
	dst any
}

func decodeAll(fields ...jsonField) error {
	for _, f := range fields {
		if err := fromJSON(f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}
