// Package registry holds the in-memory snapshot of configured backends.
// Spec §9: "Model as an explicit state handle passed into every handler;
// hot-reload via atomic pointer swap; never a true global." One Registry
// is constructed at startup and threaded through the HTTP handlers, the
// federated engine and the backend-client pool.
package registry

import (
	"sort"
	"sync/atomic"

	"jellyswarrm/internal/metrics"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/repository"
)

// Registry is a read-optimized snapshot of the configured Servers.
// Readers never block; writers (admin mutations) reload from persistence
// and atomically swap the whole snapshot.
type Registry struct {
	repo     repository.Repository
	snapshot atomic.Pointer[[]models.Server]
	online   atomic.Pointer[map[int64]bool]
}

// New constructs a Registry and loads the initial snapshot from repo.
func New(repo repository.Repository) (*Registry, error) {
	r := &Registry{repo: repo}
	empty := map[int64]bool{}
	r.online.Store(&empty)
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every Server from persistence, sorted priority DESC,
// name ASC (spec §4.2's canonical fan-out order), and atomically swaps
// the snapshot in.
func (r *Registry) Reload() error {
	servers, err := r.repo.ListServers()
	if err != nil {
		return err
	}
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority > servers[j].Priority
		}
		return servers[i].Name < servers[j].Name
	})
	r.snapshot.Store(&servers)
	return nil
}

// All returns every configured backend in fan-out order.
func (r *Registry) All() []models.Server {
	p := r.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Online returns only the backends not currently flagged offline by the
// health prober. A backend that's flagged offline stays in the registry
// (routed requests to its already-minted media ids must still resolve,
// per spec §7) but is skipped during fan-out.
func (r *Registry) Online() []models.Server {
	all := r.All()
	onlineMap := r.onlineMap()
	out := make([]models.Server, 0, len(all))
	for _, s := range all {
		if online, known := onlineMap[s.ID]; !known || online {
			out = append(out, s)
		}
	}
	return out
}

// ByID returns the server with the given id, if present in the snapshot.
func (r *Registry) ByID(id int64) (models.Server, bool) {
	for _, s := range r.All() {
		if s.ID == id {
			return s, true
		}
	}
	return models.Server{}, false
}

// ByURL returns the server whose base URL matches url exactly.
func (r *Registry) ByURL(url string) (models.Server, bool) {
	for _, s := range r.All() {
		if s.BaseURL == url {
			return s, true
		}
	}
	return models.Server{}, false
}

// SetOnline updates the in-memory online/offline flag for a backend. The
// health prober calls this after each probe; it never touches
// persistence directly (ServerHealthHistory rows record the history).
func (r *Registry) SetOnline(serverID int64, online bool) {
	for {
		oldPtr := r.online.Load()
		old := map[int64]bool{}
		if oldPtr != nil {
			old = *oldPtr
		}
		updated := make(map[int64]bool, len(old)+1)
		for k, v := range old {
			updated[k] = v
		}
		updated[serverID] = online
		if r.online.CompareAndSwap(oldPtr, &updated) {
			count := 0
			for _, v := range updated {
				if v {
					count++
				}
			}
			metrics.BackendsOnline.Set(float64(count))
			return
		}
	}
}

func (r *Registry) onlineMap() map[int64]bool {
	p := r.online.Load()
	if p == nil {
		return map[int64]bool{}
	}
	return *p
}
