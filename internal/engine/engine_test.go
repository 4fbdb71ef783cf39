package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/engine"
	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"

	"github.com/stretchr/testify/require"
)

// jellyfinItemsServer returns an httptest server whose /Users/{uid}/Items
// and /Users/{uid}/Views both answer with the given items envelope.
func jellyfinItemsServer(t *testing.T, items []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"Items":            items,
			"TotalRecordCount": len(items),
		})
	}))
}

type harness struct {
	engine *engine.Engine
	repo   repository.Repository
	reg    *registry.Registry
}

func newHarness(t *testing.T, serverSpecs ...struct {
	url      string
	priority int
}) (*harness, []engine.BackendContext) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "engine_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	var backends []engine.BackendContext
	for _, spec := range serverSpecs {
		created, err := repo.CreateServer(&models.Server{Name: spec.url, BaseURL: spec.url, Priority: spec.priority})
		require.NoError(t, err)
		backends = append(backends, engine.BackendContext{Server: *created, AccessToken: "tok", BackendUserID: "backend-user"})
	}

	reg, err := registry.New(repo)
	require.NoError(t, err)
	pool := backendclient.NewPool(reg, repo, 5)
	mapper := idmap.New(repo)
	rw := rewriter.New(mapper, "proxy-server")
	auditor := audit.NewLoggerAuditor(false, nil)
	eng := engine.New(pool, rw, mapper, repo, auditor, false)

	return &harness{engine: eng, repo: repo, reg: reg}, backends
}

func spec(url string, priority int) struct {
	url      string
	priority int
} {
	return struct {
		url      string
		priority int
	}{url, priority}
}

func TestItems_FannedOut_ConcatenatesInPriorityOrder(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{{"Id": "a1", "Name": "Movie A1"}, {"Id": "a2", "Name": "Movie A2"}})
	defer a.Close()
	b := jellyfinItemsServer(t, []map[string]any{{"Id": "b1", "Name": "Movie B1"}, {"Id": "b2", "Name": "Movie B2"}})
	defer b.Close()

	h, backends := newHarness(t, spec(a.URL, 100), spec(b.URL, 50))

	result, err := h.engine.Items(context.Background(), "virtual-user-1", "", backends, engine.QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, result.TotalRecordCount)
	require.Len(t, result.Items, 4)
	require.Equal(t, "Movie A1", result.Items[0]["Name"])
	require.Equal(t, "Movie B2", result.Items[3]["Name"])

	for _, it := range result.Items {
		id := it["Id"].(string)
		require.NotContains(t, []string{"a1", "a2", "b1", "b2"}, id, "item ids must be rewritten to virtual ids")
	}
}

func TestItems_LimitZero_ReturnsEmpty(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{{"Id": "a1", "Name": "Movie A1"}})
	defer a.Close()
	h, backends := newHarness(t, spec(a.URL, 100))

	zero := 0
	result, err := h.engine.Items(context.Background(), "virtual-user-1", "", backends, engine.QueryOptions{Limit: &zero})
	require.NoError(t, err)
	require.Empty(t, result.Items)
	require.Equal(t, 0, result.TotalRecordCount)
}

func TestItems_StartIndexBeyondTotal_ReturnsEmptyWithCorrectTotal(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{{"Id": "a1", "Name": "Movie A1"}, {"Id": "a2", "Name": "Movie A2"}})
	defer a.Close()
	h, backends := newHarness(t, spec(a.URL, 100))

	result, err := h.engine.Items(context.Background(), "virtual-user-1", "", backends, engine.QueryOptions{StartIndex: 10})
	require.NoError(t, err)
	require.Empty(t, result.Items)
	require.Equal(t, 2, result.TotalRecordCount)
}

func TestItems_OneBackendFails_OthersStillReturned(t *testing.T) {
	ok := jellyfinItemsServer(t, []map[string]any{{"Id": "ok1", "Name": "Good Movie"}})
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	h, backends := newHarness(t, spec(ok.URL, 100), spec(down.URL, 50))

	result, err := h.engine.Items(context.Background(), "virtual-user-1", "", backends, engine.QueryOptions{})
	require.NoError(t, err, "a failed backend must not fail the whole fan-out")
	require.Len(t, result.Items, 1)
	require.Equal(t, "Good Movie", result.Items[0]["Name"])
}

func TestMergedLibrary_ProviderIDsDedup_KeepsHigherPrioritySource(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{
		{"Id": "a-movie", "Name": "The Movie (A copy)", "ProviderIds": map[string]any{"Tmdb": "603"}},
	})
	defer a.Close()
	b := jellyfinItemsServer(t, []map[string]any{
		{"Id": "b-movie", "Name": "The Movie (B copy)", "ProviderIds": map[string]any{"Tmdb": "603"}},
	})
	defer b.Close()

	h, backends := newHarness(t, spec(a.URL, 10), spec(b.URL, 1))
	require.NoError(t, h.reg.Reload())

	lib := &models.MergedLibrary{
		VirtualID:      "merged-1",
		DisplayName:    "Combined Movies",
		CollectionType: models.CollectionMovies,
		Dedup:          models.DedupProviderIDs,
		Sources: []models.MergedLibrarySource{
			{ServerID: backends[0].Server.ID, BackendLibraryID: "lib-a", Priority: 10},
			{ServerID: backends[1].Server.ID, BackendLibraryID: "lib-b", Priority: 1},
		},
	}
	require.NoError(t, h.repo.CreateMergedLibrary(lib))

	result, err := h.engine.Items(context.Background(), "virtual-user-1", "merged-1", backends, engine.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1, "matching provider ids across sources must collapse to one item")
	require.Equal(t, "The Movie (A copy)", result.Items[0]["Name"], "canonical representation must come from the higher-priority source")

	sources, ok := result.Items[0]["Sources"].([]string)
	require.True(t, ok)
	require.Len(t, sources, 2, "both backend items must be retained for playback selection")
}

func TestMergedLibrary_NameYearDedup_GroupsNormalizedTitles(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{
		{"Id": "a-movie", "Name": "The Matrix", "ProductionYear": 1999},
	})
	defer a.Close()
	b := jellyfinItemsServer(t, []map[string]any{
		{"Id": "b-movie", "Name": "the   matrix!", "ProductionYear": 1999},
	})
	defer b.Close()

	h, backends := newHarness(t, spec(a.URL, 10), spec(b.URL, 1))

	lib := &models.MergedLibrary{
		VirtualID:      "merged-2",
		DisplayName:    "Combined",
		CollectionType: models.CollectionMovies,
		Dedup:          models.DedupNameYear,
		Sources: []models.MergedLibrarySource{
			{ServerID: backends[0].Server.ID, BackendLibraryID: "lib-a", Priority: 10},
			{ServerID: backends[1].Server.ID, BackendLibraryID: "lib-b", Priority: 1},
		},
	}
	require.NoError(t, h.repo.CreateMergedLibrary(lib))

	result, err := h.engine.Items(context.Background(), "virtual-user-1", "merged-2", backends, engine.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
}

func TestMergedLibrary_NameYearDedup_NotDefeatedByServerNameTagging(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{
		{"Id": "a-movie", "Name": "The Matrix", "ProductionYear": 1999},
	})
	defer a.Close()
	b := jellyfinItemsServer(t, []map[string]any{
		{"Id": "b-movie", "Name": "The Matrix", "ProductionYear": 1999},
	})
	defer b.Close()

	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "engine_test_tagged.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })

	serverA, err := repo.CreateServer(&models.Server{Name: "server-a", BaseURL: a.URL, Priority: 10})
	require.NoError(t, err)
	serverB, err := repo.CreateServer(&models.Server{Name: "server-b", BaseURL: b.URL, Priority: 1})
	require.NoError(t, err)
	backends := []engine.BackendContext{
		{Server: *serverA, AccessToken: "tok", BackendUserID: "backend-user"},
		{Server: *serverB, AccessToken: "tok", BackendUserID: "backend-user"},
	}

	reg, err := registry.New(repo)
	require.NoError(t, err)
	pool := backendclient.NewPool(reg, repo, 5)
	mapper := idmap.New(repo)
	rw := rewriter.New(mapper, "proxy-server")
	auditor := audit.NewLoggerAuditor(false, nil)
	// includeServerName=true: /Items fan-out elsewhere appends "[ServerName]"
	// to titles, but that must never happen on the merged-library path.
	eng := engine.New(pool, rw, mapper, repo, auditor, true)

	lib := &models.MergedLibrary{
		VirtualID:      "merged-tagged",
		DisplayName:    "Combined",
		CollectionType: models.CollectionMovies,
		Dedup:          models.DedupNameYear,
		Sources: []models.MergedLibrarySource{
			{ServerID: serverA.ID, BackendLibraryID: "lib-a", Priority: 10},
			{ServerID: serverB.ID, BackendLibraryID: "lib-b", Priority: 1},
		},
	}
	require.NoError(t, repo.CreateMergedLibrary(lib))

	result, err := eng.Items(context.Background(), "virtual-user-1", "merged-tagged", backends, engine.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1, "same title on two backends must still collapse even with include_server_name_in_media enabled")
	require.Equal(t, "The Matrix", result.Items[0]["Name"], "merged-library items are never server-name tagged")
}

func TestViews_PrependsMergedLibraryFolders(t *testing.T) {
	a := jellyfinItemsServer(t, []map[string]any{{"Id": "folder-a", "Name": "Movies A", "IsFolder": true}})
	defer a.Close()

	h, backends := newHarness(t, spec(a.URL, 100))

	require.NoError(t, h.repo.CreateMergedLibrary(&models.MergedLibrary{
		VirtualID:      "merged-3",
		DisplayName:    "All Movies",
		CollectionType: models.CollectionMovies,
		Dedup:          models.DedupNone,
	}))

	result, err := h.engine.Views(context.Background(), "virtual-user-1", backends)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	require.Equal(t, "merged-3", result.Items[0]["Id"])
	require.Equal(t, "All Movies", result.Items[0]["Name"])
}
