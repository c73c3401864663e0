package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/permeo/internal/application"
	"github.com/bryanwahyu/permeo/internal/domain/iam"
	"github.com/bryanwahyu/permeo/internal/logger"
)

// Service implements the upload use-cases. Archive is optional.
type Service struct {
	Repo    iam.Repository
	Archive iam.ArchiveStore
	Clock   application.Clock
	Logger  *logger.Logger
}

func NewService(repo iam.Repository, archive iam.ArchiveStore, clock application.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{Repo: repo, Archive: archive, Clock: clock, Logger: log}
}

// CreateCommand carries an already-processed snapshot.
type CreateCommand struct {
	Name             string        `json:"name"`
	OriginalFilename string        `json:"original_filename"`
	Size             int64         `json:"size"`
	Data             *iam.Snapshot `json:"data"`
}

// Create stores the snapshot under a fresh id. Entity ids are taken from the
// map keys. An archive failure is logged and does not fail the upload.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*iam.Upload, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", iam.ErrInvalidUpload)
	}
	if cmd.Data == nil {
		return nil, fmt.Errorf("%w: data is required", iam.ErrInvalidUpload)
	}
	snap := normalize(cmd.Data)

	u := &iam.Upload{
		ID:               uuid.NewString(),
		Name:             cmd.Name,
		OriginalFilename: cmd.OriginalFilename,
		UploadedAt:       s.Clock.Now().UTC(),
		Size:             cmd.Size,
	}

	if s.Archive != nil {
		body, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		url, err := s.Archive.Put(ctx, "uploads/"+u.ID+".json", body, "application/json")
		if err != nil {
			s.Logger.Warn("snapshot archive failed", "upload_id", u.ID, "error", err)
		} else {
			u.ArchiveURL = url
		}
	}

	if err := s.Repo.Create(ctx, u, snap); err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	s.Logger.Info("upload stored", "upload_id", u.ID,
		"users", len(snap.Users), "roles", len(snap.Roles), "policies", len(snap.Policies), "groups", len(snap.Groups))
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]*iam.Upload, error) {
	return s.Repo.List(ctx)
}

// Snapshot returns the processed data of one upload.
func (s *Service) Snapshot(ctx context.Context, id string) (*iam.Snapshot, error) {
	return s.Repo.Snapshot(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("upload deleted", "upload_id", id)
	return nil
}

// CurrentID is the most recently created upload; ok is false when none exist.
func (s *Service) CurrentID(ctx context.Context) (string, bool, error) {
	return s.Repo.LatestID(ctx)
}

// CurrentUploadID satisfies analysis.CurrentUploadResolver.
func (s *Service) CurrentUploadID(ctx context.Context) (string, bool, error) {
	return s.CurrentID(ctx)
}

// SetCurrent only checks that the upload exists. The current upload is
// always the newest one; no selection is stored.
func (s *Service) SetCurrent(ctx context.Context, id string) error {
	_, err := s.Repo.Get(ctx, id)
	return err
}

func (s *Service) current(ctx context.Context) (string, error) {
	id, ok, err := s.CurrentID(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", iam.ErrResourceNotFound
	}
	return id, nil
}

// The resource getters read from the current upload.

func (s *Service) User(ctx context.Context, id string) (*iam.User, error) {
	uploadID, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.Repo.GetUser(ctx, uploadID, id)
}

func (s *Service) Role(ctx context.Context, id string) (*iam.Role, error) {
	uploadID, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.Repo.GetRole(ctx, uploadID, id)
}

func (s *Service) Policy(ctx context.Context, id string) (*iam.Policy, error) {
	uploadID, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.Repo.GetPolicy(ctx, uploadID, id)
}

func (s *Service) Group(ctx context.Context, id string) (*iam.Group, error) {
	uploadID, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.Repo.GetGroup(ctx, uploadID, id)
}

func normalize(in *iam.Snapshot) *iam.Snapshot {
	out := iam.NewSnapshot()
	for k, v := range in.Users {
		v.UserId = k
		out.Users[k] = v
	}
	for k, v := range in.Roles {
		v.RoleId = k
		out.Roles[k] = v
	}
	for k, v := range in.Policies {
		v.PolicyId = k
		out.Policies[k] = v
	}
	for k, v := range in.Groups {
		v.GroupId = k
		out.Groups[k] = v
	}
	return out
}
