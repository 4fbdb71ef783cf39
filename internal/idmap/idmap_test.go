package idmap_test

import (
	"path/filepath"
	"testing"

	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/repository"

	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *repository.SQLiteRepository {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "idmap_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestToVirtual_Idempotent(t *testing.T) {
	m := idmap.New(newRepo(t))

	v1, err := m.ToVirtual("http://backend-a", "item-42")
	require.NoError(t, err)

	v2, err := m.ToVirtual("http://backend-a", "item-42")
	require.NoError(t, err)

	require.Equal(t, v1, v2)
}

func TestRoundTrip(t *testing.T) {
	m := idmap.New(newRepo(t))

	virtual, err := m.ToVirtual("http://backend-b", "item-7")
	require.NoError(t, err)

	server, original, err := m.FromVirtual(virtual)
	require.NoError(t, err)
	require.Equal(t, "http://backend-b", server)
	require.Equal(t, "item-7", original)
}

func TestToVirtual_DistinctBackendsGetDistinctTokens(t *testing.T) {
	m := idmap.New(newRepo(t))

	vA, err := m.ToVirtual("http://backend-a", "item-1")
	require.NoError(t, err)
	vB, err := m.ToVirtual("http://backend-b", "item-1")
	require.NoError(t, err)

	require.NotEqual(t, vA, vB, "same original id on different backends must not collide")
}

func TestFromVirtual_UnknownReturnsNotFound(t *testing.T) {
	m := idmap.New(newRepo(t))

	_, _, err := m.FromVirtual("does-not-exist")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
