package repository

import (
	"path/filepath"
	"testing"
	"time"

	"jellyswarrm/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jellyswarrm_test.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateUser_CollapsesOnUsernameAndHash(t *testing.T) {
	repo := newTestRepo(t)

	u1 := &models.User{ID: uuid.NewString(), VirtualAuthKey: uuid.NewString(), OriginalUsername: "alice", PasswordHash: "hash1"}
	created, err := repo.CreateUser(u1)
	require.NoError(t, err)
	require.Equal(t, u1.ID, created.ID)

	u2 := &models.User{ID: uuid.NewString(), VirtualAuthKey: uuid.NewString(), OriginalUsername: "alice", PasswordHash: "hash1"}
	collapsed, err := repo.CreateUser(u2)
	require.NoError(t, err)
	require.Equal(t, u1.ID, collapsed.ID, "second create with same (username, hash) must return the first user")
}

func TestUpsertMediaMapping_Idempotent(t *testing.T) {
	repo := newTestRepo(t)

	calls := 0
	mint := func() (string, error) {
		calls++
		return uuid.NewString(), nil
	}

	m1, err := repo.UpsertMediaMapping("http://backend-a", "orig-1", mint)
	require.NoError(t, err)

	m2, err := repo.UpsertMediaMapping("http://backend-a", "orig-1", mint)
	require.NoError(t, err)

	require.Equal(t, m1.VirtualID, m2.VirtualID)
	require.Equal(t, 1, calls, "mint must not be called again once cached")

	resolved, err := repo.GetMediaMappingByVirtualID(m1.VirtualID)
	require.NoError(t, err)
	require.Equal(t, "orig-1", resolved.OriginalID)
	require.Equal(t, "http://backend-a", resolved.ServerURL)
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	user := &models.User{ID: uuid.NewString(), VirtualAuthKey: uuid.NewString(), OriginalUsername: "bob", PasswordHash: "h"}
	_, err := repo.CreateUser(user)
	require.NoError(t, err)

	mapping, err := repo.CreateServerMapping(&models.ServerMapping{UserID: user.ID, ServerURL: "http://a", MappedUsername: "bob", MappedPasswordCT: []byte("ct")})
	require.NoError(t, err)

	sess := &models.AuthorizationSession{
		UserID: user.ID, MappingID: mapping.ID, ServerURL: "http://a",
		ClientName: "Jellyfin Web", DeviceName: "Chrome", DeviceID: "dev-1",
		ProxyTokenHash: "tokhash1", BackendToken: "backend-tok",
	}
	created, err := repo.CreateSession(sess)
	require.NoError(t, err)

	fetched, err := repo.GetSessionByTokenHash("tokhash1")
	require.NoError(t, err)
	require.Equal(t, created.ID, fetched.ID)

	require.NoError(t, repo.TouchSession(created.ID, time.Now()))

	require.NoError(t, repo.DeleteSessionsForDevice(user.ID, "dev-1"))
	_, err = repo.GetSessionByTokenHash("tokhash1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMergedLibraryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	srv, err := repo.CreateServer(&models.Server{Name: "a", BaseURL: "http://a", Priority: 10})
	require.NoError(t, err)

	lib := &models.MergedLibrary{
		VirtualID: uuid.NewString(), DisplayName: "Movies", CollectionType: models.CollectionMovies,
		Dedup: models.DedupProviderIDs,
		Sources: []models.MergedLibrarySource{{ServerID: srv.ID, BackendLibraryID: "lib-1", Priority: 10}},
	}
	require.NoError(t, repo.CreateMergedLibrary(lib))

	fetched, err := repo.GetMergedLibrary(lib.VirtualID)
	require.NoError(t, err)
	require.Len(t, fetched.Sources, 1)
	require.Equal(t, "lib-1", fetched.Sources[0].BackendLibraryID)
}
