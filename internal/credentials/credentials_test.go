package credentials_test

import (
	"context"
	"encoding/json"
	"fmt"
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

	"github.com/stretchr/testify/require"
)

func acceptingBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"User":        map[string]any{"Id": "origin-user-1", "Name": "alice"},
			"AccessToken": "origin-token",
		})
	}))
}

func rejectingBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
}

func newStore(t *testing.T, serverURLs ...string) (*credentials.Store, repository.Repository) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "credentials_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	for i, url := range serverURLs {
		_, err := repo.CreateServer(&models.Server{Name: fmt.Sprintf("srv-%d", i), BaseURL: url, Priority: 100 - i})
		require.NoError(t, err)
	}

	reg, err := registry.New(repo)
	require.NoError(t, err)

	pool := backendclient.NewPool(reg, repo, 5)
	box, err := cryptoutil.NewBox("test-session-key")
	require.NoError(t, err)
	auditor := audit.NewLoggerAuditor(false, nil)

	return credentials.New(repo, reg, pool, box, auditor), repo
}

func TestAuthenticate_DiscoversAcceptingBackend(t *testing.T) {
	accept := acceptingBackend(t)
	defer accept.Close()
	reject := rejectingBackend(t)
	defer reject.Close()

	store, _ := newStore(t, accept.URL, reject.URL)

	user, mappings, err := store.Authenticate(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Len(t, mappings, 1)
	require.Equal(t, accept.URL, mappings[0].ServerURL)
}

func TestAuthenticate_IdempotentOnSecondLogin(t *testing.T) {
	accept := acceptingBackend(t)
	defer accept.Close()

	store, _ := newStore(t, accept.URL)

	u1, _, err := store.Authenticate(context.Background(), "bob", "pw")
	require.NoError(t, err)

	u2, mappings, err := store.Authenticate(context.Background(), "bob", "pw")
	require.NoError(t, err)
	require.Equal(t, u1.ID, u2.ID)
	require.Len(t, mappings, 1)
}

func TestAuthenticate_AllBackendsReject(t *testing.T) {
	reject := rejectingBackend(t)
	defer reject.Close()

	store, _ := newStore(t, reject.URL)

	_, _, err := store.Authenticate(context.Background(), "nobody", "wrong")
	require.Error(t, err)
}

func TestDecryptMapping_RoundTrips(t *testing.T) {
	accept := acceptingBackend(t)
	defer accept.Close()

	store, _ := newStore(t, accept.URL)

	_, mappings, err := store.Authenticate(context.Background(), "carol", "hunter2")
	require.NoError(t, err)
	require.Len(t, mappings, 1)

	plaintext, err := store.DecryptMapping(&mappings[0])
	require.NoError(t, err)
	require.Equal(t, "hunter2", plaintext)
}
