package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/models"
)

// mergedLibraryItems answers an Items request whose ParentId resolved to
// a MergedLibrary: query only the pinned source libraries, then collapse
// duplicates per the library's configured strategy (spec §4.5).
func (e *Engine) mergedLibraryItems(ctx context.Context, virtualUserID string, lib *models.MergedLibrary, backends []BackendContext, opts QueryOptions) (*QueryResult, error) {
	if len(lib.Sources) == 0 {
		return &QueryResult{}, nil
	}

	type sourceResult struct {
		source models.MergedLibrarySource
		items  []Item
		err    error
	}
	out := make([]sourceResult, len(lib.Sources))
	for i, src := range lib.Sources {
		b, ok := backendForServerID(backends, src.ServerID)
		if !ok {
			out[i] = sourceResult{source: src, err: jerrors.BackendUnavailable(fmt.Sprintf("server:%d", src.ServerID), "no active session for merged-library source", nil)}
			continue
		}
		items, err := e.fetchMergedLibraryItems(ctx, b, fmt.Sprintf("/Users/%s/Items", b.BackendUserID), virtualUserID, map[string]string{"ParentId": src.BackendLibraryID})
		if err != nil {
			out[i] = sourceResult{source: src, err: err}
			continue
		}
		for _, it := range items {
			it["__source_priority"] = src.Priority
		}
		out[i] = sourceResult{source: src, items: items}
	}

	var all []Item
	for _, r := range out {
		if r.err != nil {
			e.logPartialFailure(ctx, "merged_library:"+lib.VirtualID, []backendResult{{backend: BackendContext{Server: models.Server{Name: fmt.Sprintf("server:%d", r.source.ServerID)}}, err: r.err}})
			continue
		}
		all = append(all, r.items...)
	}

	deduped := dedupe(all, lib.Dedup)
	for _, it := range deduped {
		delete(it, "__source_priority")
	}

	applySort(deduped, opts)
	total := len(deduped)
	deduped = paginate(deduped, opts)
	return &QueryResult{Items: deduped, TotalRecordCount: total}, nil
}

func backendForServerID(backends []BackendContext, serverID int64) (BackendContext, bool) {
	for _, b := range backends {
		if b.Server.ID == serverID {
			return b, true
		}
	}
	return BackendContext{}, false
}

// dedupe collapses items per strategy. The group's canonical
// representation is the member with the highest __source_priority; every
// member's Id, the canonical one included, is retained under the
// canonical item's "Sources" field for playback selection (spec §4.5 "all source (server, original id) pairs
// are retained").
func dedupe(items []Item, strategy models.DedupStrategy) []Item {
	switch strategy {
	case models.DedupProviderIDs:
		return dedupeBy(items, providerIDKeys)
	case models.DedupNameYear:
		return dedupeBy(items, nameYearKey)
	default:
		return items
	}
}

// dedupeBy groups items whose keyFn outputs intersect (providerIDKeys) or
// are equal (nameYearKey), keeping the highest-priority member per group
// as canonical and recording every group member's Id under "Sources".
func dedupeBy(items []Item, keyFn func(Item) []string) []Item {
	type group struct {
		canonical Item
		priority  int
		memberIDs []string
	}
	groups := map[string]*group{}
	var order []string

	for _, item := range items {
		keys := keyFn(item)
		priority := intField(item, "__source_priority")
		id, _ := item["Id"].(string)

		var g *group
		for _, k := range keys {
			if existing, ok := groups[k]; ok {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{canonical: item, priority: priority}
			key := id
			if len(keys) > 0 {
				key = keys[0]
			}
			order = append(order, key)
			for _, k := range keys {
				groups[k] = g
			}
			groups[key] = g
		} else if priority > g.priority {
			g.canonical = item
			g.priority = priority
		}
		if id != "" {
			g.memberIDs = append(g.memberIDs, id)
		}
	}

	out := make([]Item, 0, len(order))
	seen := map[*group]bool{}
	for _, k := range order {
		g := groups[k]
		if seen[g] {
			continue
		}
		seen[g] = true
		g.canonical["Sources"] = g.memberIDs
		out = append(out, g.canonical)
	}
	return out
}

func intField(item Item, key string) int {
	if v, ok := item[key].(int); ok {
		return v
	}
	return 0
}

// providerIDKeys returns one lookup key per external provider id present
// on the item (e.g. "tmdb:603", "imdb:tt123"), so two items sharing any
// single provider match collapse into one group.
func providerIDKeys(item Item) []string {
	raw, ok := item["ProviderIds"].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for provider, v := range raw {
		if id, ok := v.(string); ok && id != "" {
			keys = append(keys, strings.ToLower(provider)+":"+id)
		}
	}
	sort.Strings(keys)
	return keys
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// nameYearKey normalizes Name + ProductionYear into a single grouping key
// (spec §4.5: "lowercased, alphanumerics + single spaces").
func nameYearKey(item Item) []string {
	name, _ := item["Name"].(string)
	if name == "" {
		return nil
	}
	normalized := strings.TrimSpace(nonAlphanumeric.ReplaceAllString(strings.ToLower(name), " "))
	year := fmt.Sprintf("%v", item["ProductionYear"])
	return []string{normalized + "|" + year}
}
