// Package backendclient is the only component that speaks HTTP to a
// configured Jellyfin backend. It owns one pooled *http.Client and one
// circuit breaker per backend (spec §4.2), classifies failures into the
// jerrors taxonomy, and runs the periodic health probe that keeps the
// Registry's online/offline flags current.
package backendclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/logging"
	"jellyswarrm/internal/metrics"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"

	"github.com/oklog/ulid/v2"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Client is a single backend's pooled transport, guarded by a circuit
// breaker and a per-call timeout.
type Client struct {
	Server  models.Server
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	timeout time.Duration
}

// newClient builds one pooled client for srv. Breaker settings mirror
// the pack's standard profile for upstream media-server APIs: trip once
// failures dominate a modest sample, recover cautiously.
func newClient(srv models.Server, timeout time.Duration) *Client {
	name := srv.Name
	return &Client{
		Server:  srv,
		timeout: timeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(cbName string, from, to gobreaker.State) {
				logging.Log.WithFields(map[string]any{
					"backend": cbName, "from": from.String(), "to": to.String(),
				}).Warn("backend circuit breaker state change")
			},
		}),
	}
}

// Do executes req under the circuit breaker with a bounded timeout,
// classifying the result into the jerrors taxonomy. req's context is
// replaced with a child carrying the timeout; callers must not reuse it.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 2048))
			r.Body.Close()
			return nil, fmt.Errorf("backend %s responded %d: %s", c.Server.Name, r.StatusCode, string(body))
		}
		return r, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.BackendErrors.WithLabelValues(c.Server.Name, "circuit_open").Inc()
			return nil, jerrors.BackendUnavailable(c.Server.Name, "circuit open", err)
		}
		metrics.BackendErrors.WithLabelValues(c.Server.Name, "transport").Inc()
		return nil, jerrors.BackendUnavailable(c.Server.Name, "request failed", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		metrics.BackendErrors.WithLabelValues(c.Server.Name, "rejected").Inc()
		return nil, jerrors.BackendRejected(c.Server.Name, resp.StatusCode, string(body))
	}
	return resp, nil
}

// Get issues a GET against path (relative to the backend's base URL).
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.Server.BaseURL+path, nil)
	if err != nil {
		return nil, jerrors.Config("building backend request", err)
	}
	return c.Do(ctx, req)
}

// State reports the circuit breaker's current state for diagnostics.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Pool holds one Client per configured backend, rebuilt whenever the
// Registry reloads.
type Pool struct {
	reg     *registry.Registry
	repo    repository.Repository
	timeout time.Duration

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewPool constructs a Pool. timeout bounds every individual backend call
// (spec's configured "timeout" setting, in seconds).
func NewPool(reg *registry.Registry, repo repository.Repository, timeoutSeconds int) *Pool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	return &Pool{
		reg:     reg,
		repo:    repo,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		clients: make(map[int64]*Client),
	}
}

// For returns the Client for srv, building and caching one on first use.
// The same *Client — and so the same circuit breaker — is returned for
// every call against a given server id, since a breaker rebuilt per
// request would never accumulate enough Counts for ReadyToTrip to ever
// fire. A server whose BaseURL changes under a reloaded Registry gets a
// fresh Client on the next For call; Evict forces a rebuild even when the
// BaseURL is unchanged.
func (p *Pool) For(srv models.Server) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[srv.ID]; ok && c.Server.BaseURL == srv.BaseURL {
		return c
	}
	c := newClient(srv, p.timeout)
	p.clients[srv.ID] = c
	return c
}

// Evict drops the cached Client for serverID, forcing the next For call
// to rebuild it (and its circuit breaker) from scratch. Called after a
// registry reload removes or reconfigures a backend.
func (p *Pool) Evict(serverID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, serverID)
}

// ForID looks up srv by id in the Registry and returns its Client.
func (p *Pool) ForID(serverID int64) (*Client, bool) {
	srv, ok := p.reg.ByID(serverID)
	if !ok {
		return nil, false
	}
	return p.For(srv), true
}

// RunHealthChecks probes every backend in the registry every interval,
// recording a ServerHealthHistory row and updating the registry's
// online/offline flag. It blocks until ctx is cancelled.
func (p *Pool) RunHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Pool) probeAll(ctx context.Context) {
	for _, srv := range p.reg.All() {
		p.probeOne(ctx, srv)
	}
}

// systemInfoPublicPath is Jellyfin's unauthenticated health endpoint.
const systemInfoPublicPath = "/System/Info/Public"

func (p *Pool) probeOne(ctx context.Context, srv models.Server) {
	client := p.For(srv)
	start := time.Now()
	resp, err := client.Get(ctx, systemInfoPublicPath)
	if err != nil && ctx.Err() != nil {
		// The prober itself is shutting down; this says nothing about the backend.
		return
	}

	history := &models.ServerHealthHistory{
		ID:           ulid.Make().String(),
		ServerID:     srv.ID,
		ResponseTime: time.Since(start),
		CheckedAt:    time.Now().UTC(),
	}
	if err != nil {
		history.Success = false
		history.Error = err.Error()
		p.reg.SetOnline(srv.ID, false)
	} else {
		resp.Body.Close()
		history.Success = true
		p.reg.SetOnline(srv.ID, true)
	}
	if rErr := p.repo.CreateHealthHistory(history); rErr != nil {
		logging.Log.WithError(rErr).WithField("server", srv.Name).Warn("failed to persist health history")
	}
}
