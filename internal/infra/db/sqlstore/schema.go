package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Analysis tables reference uploads with ON DELETE CASCADE; Delete also
// removes them explicitly so MySQL without InnoDB FKs behaves the same.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS uploads (
    id                {id} PRIMARY KEY,
    name              TEXT NOT NULL,
    original_filename TEXT NOT NULL,
    uploaded_at       {ts} NOT NULL,
    size              BIGINT NOT NULL,
    archive_url       TEXT
)`,
	`CREATE TABLE IF NOT EXISTS iam_users (
    id                        {serial},
    upload_id                 {id} NOT NULL,
    user_id                   {id} NOT NULL,
    user_name                 TEXT NOT NULL,
    arn                       TEXT NOT NULL,
    create_date               TEXT NOT NULL,
    attached_managed_policies {json} NOT NULL,
    group_list                {json} NOT NULL,
    user_policy_list          {json} NOT NULL,
    tags                      {json} NOT NULL,
    UNIQUE (upload_id, user_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS iam_roles (
    id                          {serial},
    upload_id                   {id} NOT NULL,
    role_id                     {id} NOT NULL,
    role_name                   TEXT NOT NULL,
    arn                         TEXT NOT NULL,
    create_date                 TEXT NOT NULL,
    assume_role_policy_document {json} NOT NULL,
    attached_managed_policies   {json} NOT NULL,
    role_policy_list            {json} NOT NULL,
    tags                        {json} NOT NULL,
    UNIQUE (upload_id, role_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS iam_policies (
    id                  {serial},
    upload_id           {id} NOT NULL,
    policy_id           {id} NOT NULL,
    policy_name         TEXT NOT NULL,
    arn                 TEXT NOT NULL,
    create_date         TEXT NOT NULL,
    default_version_id  TEXT NOT NULL,
    policy_version_list {json} NOT NULL,
    attachment_count    INTEGER NOT NULL,
    is_attachable       BOOLEAN NOT NULL,
    description         TEXT,
    UNIQUE (upload_id, policy_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS iam_groups (
    id                        {serial},
    upload_id                 {id} NOT NULL,
    group_id                  {id} NOT NULL,
    group_name                TEXT NOT NULL,
    arn                       TEXT NOT NULL,
    create_date               TEXT NOT NULL,
    attached_managed_policies {json} NOT NULL,
    group_policy_list         {json} NOT NULL,
    UNIQUE (upload_id, group_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS llm_recommendations (
    id              {serial},
    upload_id       {id} NOT NULL,
    policy_id       {id} NOT NULL,
    policy_name     TEXT NOT NULL,
    recommendations {json} NOT NULL,
    rationale       TEXT,
    created_at      {ts} NOT NULL,
    updated_at      {ts} NULL,
    UNIQUE (upload_id, policy_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS recommended_policies (
    id              {serial},
    upload_id       {id} NOT NULL,
    policy_id       {id} NOT NULL,
    policy_name     TEXT NOT NULL,
    policy_document {json} NOT NULL,
    explanation     TEXT,
    created_at      {ts} NOT NULL,
    updated_at      {ts} NULL,
    UNIQUE (upload_id, policy_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS attack_paths (
    id                {serial},
    upload_id         {id} NOT NULL,
    policy_id         {id} NOT NULL,
    policy_name       TEXT NOT NULL,
    attack_scenarios  {json} NOT NULL,
    impact_assessment TEXT,
    created_at        {ts} NOT NULL,
    updated_at        {ts} NULL,
    UNIQUE (upload_id, policy_id),
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
)`,
}

// child tables, in delete order
var uploadChildren = []string{
	"llm_recommendations",
	"recommended_policies",
	"attack_paths",
	"iam_users",
	"iam_roles",
	"iam_policies",
	"iam_groups",
}

func (d Dialect) ddlTypes() *strings.Replacer {
	switch d {
	case Postgres:
		return strings.NewReplacer(
			"{id}", "VARCHAR(255)",
			"{serial}", "BIGSERIAL PRIMARY KEY",
			"{json}", "JSONB",
			"{ts}", "TIMESTAMPTZ",
		)
	case MySQL:
		return strings.NewReplacer(
			"{id}", "VARCHAR(255)",
			"{serial}", "BIGINT AUTO_INCREMENT PRIMARY KEY",
			"{json}", "JSON",
			"{ts}", "DATETIME(6)",
		)
	default:
		return strings.NewReplacer(
			"{id}", "VARCHAR(255)",
			"{serial}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{json}", "TEXT",
			"{ts}", "DATETIME",
		)
	}
}

// Migrate creates every table that does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	types := db.Dialect.ddlTypes()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, types.Replace(stmt)); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
