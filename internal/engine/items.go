package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/repository"
)

// Items answers `/Users/{uid}/Items`. parentVirtualID, if non-empty,
// classifies the request (spec §4.5):
//   - resolves to a MergedLibrary virtual id  -> merged-library dedup path
//   - resolves via the ID Mapper to one backend -> Routed, single call
//   - anything else (empty, or unknown)          -> Fanned-out across all backends
func (e *Engine) Items(ctx context.Context, virtualUserID, parentVirtualID string, backends []BackendContext, opts QueryOptions) (*QueryResult, error) {
	if opts.Limit != nil && *opts.Limit == 0 {
		return &QueryResult{Items: nil, TotalRecordCount: 0}, nil
	}

	if parentVirtualID != "" {
		if lib, err := e.repo.GetMergedLibrary(parentVirtualID); err == nil {
			return e.mergedLibraryItems(ctx, virtualUserID, lib, backends, opts)
		} else if err != repository.ErrNotFound {
			return nil, jerrors.Persistence("looking up merged library", err)
		}

		if serverURL, originalID, err := e.mapper.FromVirtual(parentVirtualID); err == nil {
			return e.routedItems(ctx, virtualUserID, serverURL, originalID, backends, opts)
		} else if err != repository.ErrNotFound {
			return nil, jerrors.Persistence("resolving parent id", err)
		}
	}

	return e.fannedOutItems(ctx, virtualUserID, parentVirtualID, backends, opts)
}

// routedItems dispatches to exactly the one backend that owns
// serverURL/originalID — no merge, no dedup, just id rewriting.
func (e *Engine) routedItems(ctx context.Context, virtualUserID, serverURL, originalID string, backends []BackendContext, opts QueryOptions) (*QueryResult, error) {
	b, ok := backendFor(backends, serverURL)
	if !ok {
		return nil, jerrors.BackendUnavailable(serverURL, "no active session for routed backend", nil)
	}
	items, err := e.fetchItems(ctx, b, fmt.Sprintf("/Users/%s/Items", b.BackendUserID), virtualUserID, map[string]string{"ParentId": originalID})
	if err != nil {
		return nil, err
	}
	applySort(items, opts)
	total := len(items)
	items = paginate(items, opts)
	return &QueryResult{Items: items, TotalRecordCount: total}, nil
}

// fannedOutItems is the no-ParentId case: concatenate every backend's
// top-level items, sort, paginate globally.
func (e *Engine) fannedOutItems(ctx context.Context, virtualUserID, parentVirtualID string, backends []BackendContext, opts QueryOptions) (*QueryResult, error) {
	if len(backends) == 0 {
		return nil, errNoBackends("items")
	}

	query := map[string]string{}
	if parentVirtualID != "" {
		query["ParentId"] = parentVirtualID
	}

	results := fanOutOp(ctx, "items", backends, func(ctx context.Context, b BackendContext) ([]Item, error) {
		return e.fetchItems(ctx, b, fmt.Sprintf("/Users/%s/Items", b.BackendUserID), virtualUserID, query)
	})
	ok, failed := settled(results)
	e.logPartialFailure(ctx, "items", failed)

	var all []Item
	for _, r := range ok {
		all = append(all, r.items...)
	}
	applySort(all, opts)
	total := len(all)
	all = paginate(all, opts)
	return &QueryResult{Items: all, TotalRecordCount: total}, nil
}

func backendFor(backends []BackendContext, serverURL string) (BackendContext, bool) {
	for _, b := range backends {
		if b.Server.BaseURL == serverURL {
			return b, true
		}
	}
	return BackendContext{}, false
}

// applySort orders items by opts.SortBy/SortOrder in place. Unknown or
// empty SortBy leaves items in their fan-out concatenation order
// (priority DESC, name ASC, per the Registry's canonical backend order).
func applySort(items []Item, opts QueryOptions) {
	if opts.SortBy == "" {
		return
	}
	descending := strings.EqualFold(opts.SortOrder, "Descending")
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := items[i][opts.SortBy].(string)
		b, _ := items[j][opts.SortBy].(string)
		if descending {
			return a > b
		}
		return a < b
	})
}

// paginate applies StartIndex/Limit after sort, per spec §4.5 "global
// pagination applied after sort."
func paginate(items []Item, opts QueryOptions) []Item {
	start := opts.StartIndex
	if start < 0 {
		start = 0
	}
	if start >= len(items) {
		return nil
	}
	end := len(items)
	if opts.Limit != nil && start+*opts.Limit < end {
		end = start + *opts.Limit
	}
	return items[start:end]
}
