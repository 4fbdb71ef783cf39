package engine

import (
	"context"
	"fmt"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"

	"github.com/sirupsen/logrus"

	"jellyswarrm/internal/logging"
)

// Engine is the Federated Engine. One instance is constructed at startup
// and shared across requests; it holds no per-request state.
type Engine struct {
	pool     *backendclient.Pool
	rewriter *rewriter.Rewriter
	mapper   *idmap.Mapper
	repo     repository.Repository
	auditor  audit.Auditor

	// includeServerName appends "[ServerName]" to item titles on
	// fanned-out responses (config key include_server_name_in_media),
	// so a client browsing a merged view can tell backends apart.
	includeServerName bool
}

func New(pool *backendclient.Pool, rw *rewriter.Rewriter, mapper *idmap.Mapper, repo repository.Repository, auditor audit.Auditor, includeServerName bool) *Engine {
	return &Engine{pool: pool, rewriter: rw, mapper: mapper, repo: repo, auditor: auditor, includeServerName: includeServerName}
}

// itemsEnvelope matches Jellyfin's standard paginated list response.
type itemsEnvelope struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// searchHintsEnvelope matches Jellyfin's /Search/Hints response shape,
// which nests results under SearchHints rather than Items.
type searchHintsEnvelope struct {
	SearchHints      []Item `json:"SearchHints"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// fetchItems issues an authenticated listing call against one backend and
// scrubs the result through the ID Rewriter before it ever reaches the
// merge step, so every downstream comparison (sort, dedup, tie-break)
// operates on virtual ids only. Fetched items are tagged with their
// origin server name when includeServerName is configured.
func (e *Engine) fetchItems(ctx context.Context, b BackendContext, path, virtualUserID string, query map[string]string) ([]Item, error) {
	var env itemsEnvelope
	if err := e.pool.For(b.Server).GetJSON(ctx, path, b.AccessToken, urlValues(query), &env); err != nil {
		return nil, err
	}
	return e.finishItems(env.Items, b, virtualUserID, e.includeServerName)
}

// fetchMergedLibraryItems is fetchItems for a MergedLibrary source: server
// names are never tagged onto the title here, since dedupe (spec §4.5)
// groups on canonical metadata — a "[ServerName]" suffix baked into Name
// before nameYearKey normalizes it would stop same-titled items on two
// backends from ever being recognized as duplicates.
func (e *Engine) fetchMergedLibraryItems(ctx context.Context, b BackendContext, path, virtualUserID string, query map[string]string) ([]Item, error) {
	var env itemsEnvelope
	if err := e.pool.For(b.Server).GetJSON(ctx, path, b.AccessToken, urlValues(query), &env); err != nil {
		return nil, err
	}
	return e.finishItems(env.Items, b, virtualUserID, false)
}

// fetchItemsArray issues an authenticated listing call that returns a bare
// JSON array rather than an {Items,TotalRecordCount} envelope — Jellyfin's
// /Items/Latest responds this way, unlike every other listing endpoint.
func (e *Engine) fetchItemsArray(ctx context.Context, b BackendContext, path, virtualUserID string, query map[string]string) ([]Item, error) {
	var items []Item
	if err := e.pool.For(b.Server).GetJSON(ctx, path, b.AccessToken, urlValues(query), &items); err != nil {
		return nil, err
	}
	return e.finishItems(items, b, virtualUserID, e.includeServerName)
}

// fetchSearchHints issues /Search/Hints against one backend. The response
// nests its results under "SearchHints" instead of "Items", and each hint
// carries the backend's own relevance Score, consumed by Search for
// cross-backend ranking.
func (e *Engine) fetchSearchHints(ctx context.Context, b BackendContext, virtualUserID, term string) ([]Item, error) {
	var env searchHintsEnvelope
	if err := e.pool.For(b.Server).GetJSON(ctx, "/Search/Hints", b.AccessToken, urlValues(map[string]string{"SearchTerm": term}), &env); err != nil {
		return nil, err
	}
	return e.finishItems(env.SearchHints, b, virtualUserID, e.includeServerName)
}

// finishItems runs every fetched item through the ID Rewriter's outbound
// pass and, if tag is true and configured, tags it with its origin server
// name.
func (e *Engine) finishItems(items []Item, b BackendContext, virtualUserID string, tag bool) ([]Item, error) {
	for _, item := range items {
		if err := e.rewriter.Outbound(item, b.Server.BaseURL, virtualUserID); err != nil {
			return nil, err
		}
		if tag && e.includeServerName {
			tagServerName(item, b.Server.Name)
		}
	}
	return items, nil
}

// hintScore extracts a search hint's backend-reported relevance score.
// Absent or non-numeric scores rank last, broken by the existing
// (priority DESC, name ASC) backend tie-break.
func hintScore(item Item) (float64, bool) {
	switch v := item["Score"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func tagServerName(item Item, serverName string) {
	name, ok := item["Name"].(string)
	if !ok || name == "" {
		return
	}
	item["Name"] = fmt.Sprintf("%s [%s]", name, serverName)
}

// logPartialFailure records a fanned-out backend's failure per spec
// §4.5: "a warning is logged ... but not in the client-visible JSON."
func (e *Engine) logPartialFailure(ctx context.Context, op string, failed []backendResult) {
	for _, f := range failed {
		logging.Log.WithFields(logrus.Fields{
			"operation": op,
			"backend":   f.backend.Server.Name,
			"error":     f.err.Error(),
		}).Warn("fan-out backend failed, omitting from merged result")
		e.auditor.Log(ctx, "fanout.partial_failure", "system", f.backend.Server.Name, map[string]any{
			"operation": op,
			"error":     f.err.Error(),
		})
	}
}

// errNoBackends is returned when a fan-out has nothing to call.
func errNoBackends(op string) error {
	return jerrors.BackendUnavailable("", op+": no backends available", nil)
}

func urlValues(m map[string]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = []string{v}
		}
	}
	return out
}
