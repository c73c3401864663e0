package iam

import (
	"context"
	"errors"
)

var (
	ErrUploadNotFound   = errors.New("upload not found")
	ErrResourceNotFound = errors.New("iam resource not found")
	ErrInvalidUpload    = errors.New("invalid upload")
)

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, u *Upload, snap *Snapshot) error
	List(ctx context.Context) ([]*Upload, error)
	Get(ctx context.Context, id string) (*Upload, error)
	Snapshot(ctx context.Context, id string) (*Snapshot, error)
	// Delete removes the upload, its IAM rows and every analysis keyed to it.
	Delete(ctx context.Context, id string) error
	// LatestID returns the most recently uploaded id; ok is false when there are none.
	LatestID(ctx context.Context) (id string, ok bool, err error)

	GetUser(ctx context.Context, uploadID, userID string) (*User, error)
	GetRole(ctx context.Context, uploadID, roleID string) (*Role, error)
	GetPolicy(ctx context.Context, uploadID, policyID string) (*Policy, error)
	GetGroup(ctx context.Context, uploadID, groupID string) (*Group, error)
}

// ArchiveStore keeps the raw snapshot body next to the relational copy.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}
