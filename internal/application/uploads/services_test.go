package uploads

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/permeo/internal/domain/iam"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

type memRepo struct {
	uploads map[string]*iam.Upload
	snaps   map[string]*iam.Snapshot
}

func newMemRepo() *memRepo {
	return &memRepo{uploads: map[string]*iam.Upload{}, snaps: map[string]*iam.Snapshot{}}
}

func (m *memRepo) Create(_ context.Context, u *iam.Upload, snap *iam.Snapshot) error {
	m.uploads[u.ID] = u
	m.snaps[u.ID] = snap
	return nil
}

func (m *memRepo) List(context.Context) ([]*iam.Upload, error) {
	out := make([]*iam.Upload, 0, len(m.uploads))
	for _, u := range m.uploads {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id string) (*iam.Upload, error) {
	if u, ok := m.uploads[id]; ok {
		return u, nil
	}
	return nil, iam.ErrUploadNotFound
}

func (m *memRepo) Snapshot(_ context.Context, id string) (*iam.Snapshot, error) {
	if s, ok := m.snaps[id]; ok {
		return s, nil
	}
	return nil, iam.ErrUploadNotFound
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.uploads[id]; !ok {
		return iam.ErrUploadNotFound
	}
	delete(m.uploads, id)
	delete(m.snaps, id)
	return nil
}

func (m *memRepo) LatestID(ctx context.Context) (string, bool, error) {
	list, _ := m.List(ctx)
	if len(list) == 0 {
		return "", false, nil
	}
	return list[0].ID, true, nil
}

func (m *memRepo) GetUser(_ context.Context, uploadID, id string) (*iam.User, error) {
	if u, ok := m.snaps[uploadID].Users[id]; ok {
		return &u, nil
	}
	return nil, iam.ErrResourceNotFound
}

func (m *memRepo) GetRole(_ context.Context, uploadID, id string) (*iam.Role, error) {
	if r, ok := m.snaps[uploadID].Roles[id]; ok {
		return &r, nil
	}
	return nil, iam.ErrResourceNotFound
}

func (m *memRepo) GetPolicy(_ context.Context, uploadID, id string) (*iam.Policy, error) {
	if p, ok := m.snaps[uploadID].Policies[id]; ok {
		return &p, nil
	}
	return nil, iam.ErrResourceNotFound
}

func (m *memRepo) GetGroup(_ context.Context, uploadID, id string) (*iam.Group, error) {
	if g, ok := m.snaps[uploadID].Groups[id]; ok {
		return &g, nil
	}
	return nil, iam.ErrResourceNotFound
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "s3://snapshots/" + key, nil
}

func snapshot() *iam.Snapshot {
	s := iam.NewSnapshot()
	s.Users["AIDA1"] = iam.User{UserName: "alice"}
	s.Policies["ANPA1"] = iam.Policy{PolicyName: "S3Full", IsAttachable: true}
	return s
}

func TestCreate_AssignsIDAndArchives(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	archive := &fakeArchive{}
	svc := NewService(repo, archive, &fixedClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)

	u, err := svc.Create(ctx, CreateCommand{Name: "prod", OriginalFilename: "prod.json", Size: 10, Data: snapshot()})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "s3://snapshots/uploads/"+u.ID+".json", u.ArchiveURL)
	assert.Equal(t, []string{"uploads/" + u.ID + ".json"}, archive.keys)

	user, err := svc.User(ctx, "AIDA1")
	require.NoError(t, err)
	assert.Equal(t, "AIDA1", user.UserId)
	assert.Equal(t, "alice", user.UserName)
}

func TestCreate_ArchiveFailureIsSoft(t *testing.T) {
	svc := NewService(newMemRepo(), &fakeArchive{err: errors.New("bucket gone")}, nil, nil)
	u, err := svc.Create(context.Background(), CreateCommand{Name: "x", Data: snapshot()})
	require.NoError(t, err)
	assert.Empty(t, u.ArchiveURL)
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil, nil)
	_, err := svc.Create(context.Background(), CreateCommand{Data: snapshot()})
	assert.ErrorIs(t, err, iam.ErrInvalidUpload)
	_, err = svc.Create(context.Background(), CreateCommand{Name: "x"})
	assert.ErrorIs(t, err, iam.ErrInvalidUpload)
}

func TestCurrentUpload(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemRepo(), nil, &fixedClock{t: time.Now().UTC()}, nil)

	_, ok, err := svc.CurrentUploadID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = svc.Policy(ctx, "ANPA1")
	assert.ErrorIs(t, err, iam.ErrResourceNotFound)

	first, err := svc.Create(ctx, CreateCommand{Name: "first", Data: snapshot()})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateCommand{Name: "second", Data: iam.NewSnapshot()})
	require.NoError(t, err)

	id, ok, err := svc.CurrentID(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second.ID, id)

	// selecting an older upload does not change the current one
	require.NoError(t, svc.SetCurrent(ctx, first.ID))
	id, _, _ = svc.CurrentID(ctx)
	assert.Equal(t, second.ID, id)
	assert.ErrorIs(t, svc.SetCurrent(ctx, "missing"), iam.ErrUploadNotFound)

	_, err = svc.Policy(ctx, "ANPA1")
	assert.ErrorIs(t, err, iam.ErrResourceNotFound)

	require.NoError(t, svc.Delete(ctx, second.ID))
	p, err := svc.Policy(ctx, "ANPA1")
	require.NoError(t, err)
	assert.True(t, p.IsAttachable)
}
