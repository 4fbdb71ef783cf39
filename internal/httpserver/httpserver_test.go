package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/config"
	"jellyswarrm/internal/credentials"
	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/engine"
	"jellyswarrm/internal/httpserver"
	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"
	"jellyswarrm/internal/session"
	"jellyswarrm/internal/stream"

	"github.com/stretchr/testify/require"
)

// fakeBackend answers just enough of the Jellyfin API for the HTTP front
// to be exercised end to end: login, one item, one view.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Users/AuthenticateByName", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"User":        map[string]any{"Id": "backend-user-1", "Name": "alice"},
			"AccessToken": "backend-token",
		})
	})
	mux.HandleFunc("/Users/backend-user-1/Views", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"Items":            []map[string]any{{"Id": "lib-1", "Name": "Movies"}},
			"TotalRecordCount": 1,
		})
	})
	mux.HandleFunc("/Items/movie-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"Id": "movie-1", "Name": "The Movie"})
	})
	return httptest.NewServer(mux)
}

type harness struct {
	srv    *httpserver.Server
	repo   repository.Repository
	mapper *idmap.Mapper
}

func newHarness(t *testing.T, backendURL string) *harness {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "http_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	_, err = repo.CreateServer(&models.Server{Name: "backend-a", BaseURL: backendURL, Priority: 100})
	require.NoError(t, err)

	reg, err := registry.New(repo)
	require.NoError(t, err)
	pool := backendclient.NewPool(reg, repo, 5)

	box, err := cryptoutil.NewBox(strings.Repeat("a", 64))
	require.NoError(t, err)
	auditor := audit.NewLoggerAuditor(false, nil)

	creds := credentials.New(repo, reg, pool, box, auditor)
	sessions := session.New(repo, reg, pool, creds)
	mapper := idmap.New(repo)
	rw := rewriter.New(mapper, "proxy-server")
	eng := engine.New(pool, rw, mapper, repo, auditor, false)
	dispatch := stream.New(strings.Repeat("b", 64), "redirect")

	cfg := &config.Config{ServerName: "Jellyswarrm Test", ServerID: "test-server", UIRoute: "ui"}

	srv := httpserver.New(cfg, repo, reg, pool, mapper, rw, creds, sessions, eng, dispatch, auditor)
	return &harness{srv: srv, repo: repo, mapper: mapper}
}

func TestSystemInfoPublic_RequiresNoAuth(t *testing.T) {
	h := newHarness(t, "http://unused")
	req := httptest.NewRequest(http.MethodGet, "/System/Info/Public", nil)
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Jellyswarrm Test", body["ServerName"])
}

func TestAuthenticateByName_UnknownUser_DiscoversAndReturnsToken(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	h := newHarness(t, backend.URL)

	body := strings.NewReader(`{"Username":"alice","Pw":"s3cret"}`)
	req := httptest.NewRequest(http.MethodPost, "/Users/AuthenticateByName", body)
	req.Header.Set("X-Emby-Authorization", `MediaBrowser Client="jellyfin-web", Device="chrome", DeviceId="dev-1", Version="1.0"`)
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["AccessToken"])
}

func TestViews_RoutesThroughEngineAfterLogin(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	h := newHarness(t, backend.URL)

	token := loginAndGetToken(t, h, "alice", "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/Users/whoever/Views", nil)
	req.Header.Set("X-Emby-Authorization", `MediaBrowser Client="jellyfin-web", Device="chrome", DeviceId="dev-1", Version="1.0", Token="`+token+`"`)
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result engine.QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Items, 1)
	require.Equal(t, "Movies", result.Items[0]["Name"])
}

func TestItemByID_UnresolvableSessionToken_RejectedBeforeLookup(t *testing.T) {
	h := newHarness(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/Items/not-a-real-id", nil)
	req.Header.Set("X-Emby-Authorization", `MediaBrowser Client="c", Device="d", DeviceId="dev-1", Version="1.0", Token="anything"`)
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code, "an unresolvable session token is rejected before the id is even looked up")
}

func loginAndGetToken(t *testing.T, h *harness, username, password string) string {
	t.Helper()
	body := strings.NewReader(`{"Username":"` + username + `","Pw":"` + password + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/Users/AuthenticateByName", body)
	req.Header.Set("X-Emby-Authorization", `MediaBrowser Client="jellyfin-web", Device="chrome", DeviceId="dev-1", Version="1.0"`)
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["AccessToken"].(string)
}
