// Package idmap is the single authority translating backend-assigned
// media identifiers to proxy-visible virtual ids and back (spec §4.1).
// The proxy must never leak a backend id to a client, and must never
// accept one from a client — every id that crosses that boundary passes
// through here.
package idmap

import (
	"fmt"
	"time"

	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/metrics"
	"jellyswarrm/internal/repository"

	"github.com/patrickmn/go-cache"
)

// tokenBytes is the entropy of a minted virtual media id: deliberately
// random (not derived from the inputs) so the original id cannot be
// recovered by inspection, per spec §4.1.
const tokenBytes = 16

// mappingCacheTTL backs the read-through cache in front of the
// MediaMapping table; mappings are immutable once minted, so the only
// reason this isn't infinite is to bound memory on a long-lived process.
const mappingCacheTTL = 10 * time.Minute

// Mapper mints and resolves virtual media ids against the durable
// MediaMapping table, with an in-process read-through cache in front
// keyed on both directions.
type Mapper struct {
	repo    repository.Repository
	forward *cache.Cache // "serverURL|originalID" -> virtualID
	reverse *cache.Cache // virtualID -> mediaMappingEntry
}

type mediaMappingEntry struct {
	serverURL  string
	originalID string
}

func New(repo repository.Repository) *Mapper {
	return &Mapper{
		repo:    repo,
		forward: cache.New(mappingCacheTTL, 2*mappingCacheTTL),
		reverse: cache.New(mappingCacheTTL, 2*mappingCacheTTL),
	}
}

func forwardKey(serverURL, originalID string) string { return serverURL + "|" + originalID }

// ToVirtual is idempotent: if (server, originalID) is unknown it mints a
// new virtual id and persists it; if known, the existing virtual id is
// returned unchanged.
func (m *Mapper) ToVirtual(serverURL, originalID string) (string, error) {
	if originalID == "" {
		return "", fmt.Errorf("idmap: empty original id")
	}
	if v, ok := m.forward.Get(forwardKey(serverURL, originalID)); ok {
		metrics.MappingCacheHits.WithLabelValues("hit").Inc()
		return v.(string), nil
	}
	metrics.MappingCacheHits.WithLabelValues("miss").Inc()

	mapping, err := m.repo.UpsertMediaMapping(serverURL, originalID, mintToken)
	if err != nil {
		return "", fmt.Errorf("idmap: minting virtual id for %s@%s: %w", originalID, serverURL, err)
	}
	m.forward.SetDefault(forwardKey(serverURL, originalID), mapping.VirtualID)
	m.reverse.SetDefault(mapping.VirtualID, mediaMappingEntry{serverURL: serverURL, originalID: originalID})
	return mapping.VirtualID, nil
}

// FromVirtual resolves a virtual id back to its backend origin. Returns
// repository.ErrNotFound (callers map this to jerrors.MappingMissing) if
// the token is unknown.
func (m *Mapper) FromVirtual(virtualID string) (serverURL, originalID string, err error) {
	if v, ok := m.reverse.Get(virtualID); ok {
		metrics.MappingCacheHits.WithLabelValues("hit").Inc()
		entry := v.(mediaMappingEntry)
		return entry.serverURL, entry.originalID, nil
	}
	metrics.MappingCacheHits.WithLabelValues("miss").Inc()

	mapping, err := m.repo.GetMediaMappingByVirtualID(virtualID)
	if err != nil {
		return "", "", err
	}
	m.reverse.SetDefault(virtualID, mediaMappingEntry{serverURL: mapping.ServerURL, originalID: mapping.OriginalID})
	m.forward.SetDefault(forwardKey(mapping.ServerURL, mapping.OriginalID), virtualID)
	return mapping.ServerURL, mapping.OriginalID, nil
}

func mintToken() (string, error) {
	return cryptoutil.RandomToken(tokenBytes)
}
