package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/credentials"
	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/session"

	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*session.Manager, *credentials.Store, repository.Repository, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"User":        map[string]any{"Id": "origin-user-1", "Name": "alice"},
			"AccessToken": "origin-token-1",
		})
	}))
	t.Cleanup(backend.Close)

	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "session_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	_, err = repo.CreateServer(&models.Server{Name: "a", BaseURL: backend.URL, Priority: 10})
	require.NoError(t, err)

	reg, err := registry.New(repo)
	require.NoError(t, err)
	pool := backendclient.NewPool(reg, repo, 5)
	box, err := cryptoutil.NewBox("test-session-key")
	require.NoError(t, err)
	creds := credentials.New(repo, reg, pool, box, audit.NewLoggerAuditor(false, nil))

	mgr := session.New(repo, reg, pool, creds)
	return mgr, creds, repo, backend
}

func TestEstablish_CreatesThenReusesSession(t *testing.T) {
	mgr, creds, repo, _ := newHarness(t)

	user, mappings, err := creds.Authenticate(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	require.Len(t, mappings, 1)

	dev := session.DeviceInfo{ClientName: "Jellyfin Web", DeviceName: "Chrome", DeviceID: "dev-1", AppVersion: "1.0"}

	sess1, token1, err := mgr.Establish(context.Background(), user, &mappings[0], dev)
	require.NoError(t, err)
	require.NotEmpty(t, token1)
	require.Equal(t, "origin-token-1", sess1.BackendToken)

	sess2, token2, err := mgr.Establish(context.Background(), user, &mappings[0], dev)
	require.NoError(t, err)
	require.Empty(t, token2, "second Establish call must not mint a new token")
	require.Equal(t, sess1.ID, sess2.ID)

	resolved, err := mgr.Resolve(context.Background(), token1)
	require.NoError(t, err)
	require.Equal(t, sess1.ID, resolved.ID)

	_ = repo
}

func TestResolve_UnknownToken(t *testing.T) {
	mgr, _, _, _ := newHarness(t)

	_, err := mgr.Resolve(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestLogout_InvalidatesSession(t *testing.T) {
	mgr, creds, _, _ := newHarness(t)

	user, mappings, err := creds.Authenticate(context.Background(), "bob", "pw")
	require.NoError(t, err)

	dev := session.DeviceInfo{ClientName: "c", DeviceName: "d", DeviceID: "dev-2"}
	_, token, err := mgr.Establish(context.Background(), user, &mappings[0], dev)
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(user.ID, "dev-2"))

	_, err = mgr.Resolve(context.Background(), token)
	require.Error(t, err)
}
