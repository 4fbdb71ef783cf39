package backendclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*registry.Registry, repository.Repository) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "backendclient_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	reg, err := registry.New(repo)
	require.NoError(t, err)
	return reg, repo
}

func TestClient_Get_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ServerName":"origin"}`))
	}))
	defer srv.Close()

	reg, repo := newTestRegistry(t)
	created, err := repo.(*repository.SQLiteRepository).CreateServer(&models.Server{Name: "a", BaseURL: srv.URL, Priority: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Reload())

	pool := backendclient.NewPool(reg, repo, 5)
	client, ok := pool.ForID(created.ID)
	require.True(t, ok)

	resp, err := client.Get(context.Background(), "/System/Info/Public")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_Get_BackendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`unauthorized`))
	}))
	defer srv.Close()

	reg, repo := newTestRegistry(t)
	created, err := repo.(*repository.SQLiteRepository).CreateServer(&models.Server{Name: "a", BaseURL: srv.URL, Priority: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Reload())

	pool := backendclient.NewPool(reg, repo, 5)
	client, _ := pool.ForID(created.ID)

	_, err = client.Get(context.Background(), "/Users/AuthenticateByName")
	require.Error(t, err)
	require.True(t, jerrors.Is(err, jerrors.KindBackendRejected))
	require.Equal(t, http.StatusUnauthorized, jerrors.HTTPStatus(err))
}

func TestClient_Get_Unreachable(t *testing.T) {
	reg, repo := newTestRegistry(t)
	created, err := repo.(*repository.SQLiteRepository).CreateServer(&models.Server{Name: "dead", BaseURL: "http://127.0.0.1:1", Priority: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Reload())

	pool := backendclient.NewPool(reg, repo, 1)
	client, _ := pool.ForID(created.ID)

	_, err = client.Get(context.Background(), "/System/Info/Public")
	require.Error(t, err)
	require.True(t, jerrors.Is(err, jerrors.KindBackendUnavailable))
}

func TestPool_For_ReturnsSameClientAcrossCalls(t *testing.T) {
	reg, repo := newTestRegistry(t)
	created, err := repo.(*repository.SQLiteRepository).CreateServer(&models.Server{Name: "a", BaseURL: "http://example.invalid", Priority: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Reload())

	pool := backendclient.NewPool(reg, repo, 5)
	srv, ok := reg.ByID(created.ID)
	require.True(t, ok)

	first := pool.For(srv)
	second := pool.For(srv)
	require.Same(t, first, second, "repeated For calls must return the cached client so its circuit breaker accumulates state across requests")

	pool.Evict(created.ID)
	third := pool.For(srv)
	require.NotSame(t, first, third, "Evict forces the next call to rebuild the client")
}

func TestPool_RunHealthChecks_UpdatesRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg, repo := newTestRegistry(t)
	created, err := repo.(*repository.SQLiteRepository).CreateServer(&models.Server{Name: "a", BaseURL: srv.URL, Priority: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Reload())

	pool := backendclient.NewPool(reg, repo, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	pool.RunHealthChecks(ctx, 50*time.Millisecond)

	online := reg.Online()
	require.Len(t, online, 1)
	require.Equal(t, created.ID, online[0].ID)
}
