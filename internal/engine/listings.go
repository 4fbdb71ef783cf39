package engine

import (
	"context"
	"fmt"
	"sort"
)

// Views answers `/Users/{uid}/Views` (spec §4.5 "Views / root library
// listing"): concatenate per-backend library folders in priority order,
// then prepend virtual MergedLibrary CollectionFolder entries.
func (e *Engine) Views(ctx context.Context, virtualUserID string, backends []BackendContext) (*QueryResult, error) {
	if len(backends) == 0 {
		return nil, errNoBackends("views")
	}

	results := fanOutOp(ctx, "views", backends, func(ctx context.Context, b BackendContext) ([]Item, error) {
		return e.fetchItems(ctx, b, fmt.Sprintf("/Users/%s/Views", b.BackendUserID), virtualUserID, nil)
	})
	ok, failed := settled(results)
	e.logPartialFailure(ctx, "views", failed)

	merged := make([]Item, 0)
	merged = append(merged, e.mergedLibraryFolders(virtualUserID)...)
	for _, r := range ok {
		merged = append(merged, r.items...)
	}
	return &QueryResult{Items: merged, TotalRecordCount: len(merged)}, nil
}

// mergedLibraryFolders builds the synthetic CollectionFolder items
// representing every MergedLibrary visible to virtualUserID (global plus
// that user's own).
func (e *Engine) mergedLibraryFolders(virtualUserID string) []Item {
	libs, err := e.repo.ListMergedLibraries(virtualUserID)
	if err != nil || len(libs) == 0 {
		return nil
	}
	out := make([]Item, 0, len(libs))
	for _, l := range libs {
		out = append(out, Item{
			"Id":             l.VirtualID,
			"Name":           l.DisplayName,
			"CollectionType": string(l.CollectionType),
			"IsFolder":       true,
			"Type":           "CollectionFolder",
		})
	}
	return out
}

// NextUp answers `/Shows/NextUp`: concatenate across backends, sort by
// each item's DateCreated (falling back to PremiereDate) descending, take
// the first N.
func (e *Engine) NextUp(ctx context.Context, virtualUserID string, backends []BackendContext, limit int) (*QueryResult, error) {
	return e.dateRankedFanOut(ctx, "nextup", "/Shows/NextUp", virtualUserID, backends, limit)
}

// Latest answers `/Items/Latest` with the same merge shape as NextUp.
// Jellyfin returns a bare array here, not the usual {Items,...} envelope.
func (e *Engine) Latest(ctx context.Context, virtualUserID string, backends []BackendContext, limit int) (*QueryResult, error) {
	const op = "latest"
	if len(backends) == 0 {
		return nil, errNoBackends(op)
	}

	results := fanOutOp(ctx, op, backends, func(ctx context.Context, b BackendContext) ([]Item, error) {
		return e.fetchItemsArray(ctx, b, "/Items/Latest", virtualUserID, nil)
	})
	ok, failed := settled(results)
	e.logPartialFailure(ctx, op, failed)

	var all []Item
	for _, r := range ok {
		all = append(all, r.items...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return itemDate(all[i]) > itemDate(all[j])
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return &QueryResult{Items: all, TotalRecordCount: len(all)}, nil
}

func (e *Engine) dateRankedFanOut(ctx context.Context, op, path, virtualUserID string, backends []BackendContext, limit int) (*QueryResult, error) {
	if len(backends) == 0 {
		return nil, errNoBackends(op)
	}

	results := fanOutOp(ctx, op, backends, func(ctx context.Context, b BackendContext) ([]Item, error) {
		return e.fetchItems(ctx, b, path, virtualUserID, nil)
	})
	ok, failed := settled(results)
	e.logPartialFailure(ctx, op, failed)

	var all []Item
	for _, r := range ok {
		all = append(all, r.items...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return itemDate(all[i]) > itemDate(all[j])
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return &QueryResult{Items: all, TotalRecordCount: len(all)}, nil
}

// itemDate extracts the field Jellyfin sorts recency by, preferring
// DateCreated; falls back to an empty string (sorts last) if absent.
func itemDate(item Item) string {
	if v, ok := item["DateCreated"].(string); ok {
		return v
	}
	if v, ok := item["PremiereDate"].(string); ok {
		return v
	}
	return ""
}

// Search answers `/Search/Hints`: concatenate across backends, rank by
// each backend's own returned Score descending, stable tie-break on
// (backend priority DESC, backend name) for hints without a usable score
// or tied on one, per spec §4.5.
func (e *Engine) Search(ctx context.Context, virtualUserID, term string, backends []BackendContext) (*QueryResult, error) {
	if len(backends) == 0 {
		return nil, errNoBackends("search")
	}

	results := fanOutOp(ctx, "search", backends, func(ctx context.Context, b BackendContext) ([]Item, error) {
		return e.fetchSearchHints(ctx, b, virtualUserID, term)
	})
	ok, failed := settled(results)
	e.logPartialFailure(ctx, "search", failed)

	sort.SliceStable(ok, func(i, j int) bool {
		if ok[i].backend.Server.Priority != ok[j].backend.Server.Priority {
			return ok[i].backend.Server.Priority > ok[j].backend.Server.Priority
		}
		return ok[i].backend.Server.Name < ok[j].backend.Server.Name
	})

	type scoredHint struct {
		item     Item
		score    float64
		hasScore bool
		order    int
	}
	var hints []scoredHint
	for _, r := range ok {
		for _, item := range r.items {
			score, hasScore := hintScore(item)
			hints = append(hints, scoredHint{item: item, score: score, hasScore: hasScore, order: len(hints)})
		}
	}
	sort.SliceStable(hints, func(i, j int) bool {
		if hints[i].hasScore != hints[j].hasScore {
			return hints[i].hasScore
		}
		if hints[i].hasScore && hints[i].score != hints[j].score {
			return hints[i].score > hints[j].score
		}
		return hints[i].order < hints[j].order
	})

	all := make([]Item, len(hints))
	for i, h := range hints {
		all[i] = h.item
	}
	return &QueryResult{Items: all, TotalRecordCount: len(all)}, nil
}
