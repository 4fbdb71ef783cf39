package httpserver

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/logging"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/session"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// errorResponse mirrors Jellyfin's plain-text/JSON error bodies closely
// enough for client apps that only check the HTTP status.
type errorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		logging.Log.WithError(err).Warn("failed to encode error response")
	}
}

func respondWithErr(w http.ResponseWriter, err error) {
	respondWithError(w, jerrors.HTTPStatus(err), err.Error())
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log.WithError(err).Warn("failed to encode JSON response")
	}
}

// ipLimiter keys a token-bucket limiter per remote address (spec §7:
// "per-IP throttle on auth and admin endpoints; 429 with Retry-After").
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
	repo     repository.Repository
}

func newIPLimiter(repo repository.Repository, perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter), r: rate.Limit(perSecond), burst: burst, repo: repo}
}

func (l *ipLimiter) allow(remoteIP string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[remoteIP]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[remoteIP] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimit wraps a handler so repeated requests from one IP beyond the
// configured rate receive 429 with Retry-After, and the rejection is
// recorded to RateLimitEvent for audit/debugging.
func (l *ipLimiter) rateLimit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if !l.allow(ip) {
			event := &models.RateLimitEvent{ID: ulid.Make().String(), RemoteIP: ip, Route: route, CreatedAt: time.Now().UTC()}
			if err := l.repo.CreateRateLimitEvent(event); err != nil {
				logging.Log.WithError(err).Warn("failed to persist rate limit event")
			}
			w.Header().Set("Retry-After", "1")
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireSession resolves the inbound X-Emby-Authorization token to a
// live AuthorizationSession, rejecting the request with 401 on failure,
// and stores both the session and the parsed device info on the request
// context for handlers further down the chain.
func requireSession(sessions *session.Manager) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			parsed, err := parseEmbyAuthorization(r)
			if err != nil {
				respondWithErr(w, err)
				return
			}
			if parsed.Token == "" {
				respondWithErr(w, jerrors.Unauthorized("missing Token in authorization header"))
				return
			}
			sess, err := sessions.Resolve(r.Context(), parsed.Token)
			if err != nil {
				respondWithErr(w, err)
				return
			}
			ctx := withSession(r.Context(), sess)
			ctx = withDevice(ctx, parsed.DeviceInfo)
			next(w, r.WithContext(ctx))
		}
	}
}

func logRequests(auditor audit.Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logging.Log.WithFields(map[string]any{"method": r.Method, "path": r.URL.Path, "remote": remoteIP(r)}).Debug("request")
			next.ServeHTTP(w, r)
		})
	}
}
