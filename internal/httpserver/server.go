// Package httpserver is the HTTP Front (spec §6): a Jellyfin-compatible
// REST surface backed by the Federated Engine, Session Manager,
// Credential Store and Stream Dispatcher.
package httpserver

import (
	"context"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/config"
	"jellyswarrm/internal/credentials"
	"jellyswarrm/internal/engine"
	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/logging"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"
	"jellyswarrm/internal/session"
	"jellyswarrm/internal/stream"
	"jellyswarrm/internal/web"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Server wires every proxy component to the HTTP surface. It holds no
// request-scoped state; everything here is safe for concurrent handlers.
type Server struct {
	cfg      *config.Config
	repo     repository.Repository
	reg      *registry.Registry
	backends *backendclient.Pool
	mapper   *idmap.Mapper
	rewriter *rewriter.Rewriter
	creds    *credentials.Store
	sessions *session.Manager
	engine   *engine.Engine
	dispatch *stream.Dispatcher
	auditor  audit.Auditor
	limiter  *ipLimiter
	admin    *adminAuth
}

func New(
	cfg *config.Config,
	repo repository.Repository,
	reg *registry.Registry,
	backends *backendclient.Pool,
	mapper *idmap.Mapper,
	rw *rewriter.Rewriter,
	creds *credentials.Store,
	sessions *session.Manager,
	eng *engine.Engine,
	dispatch *stream.Dispatcher,
	auditor audit.Auditor,
) *Server {
	admin, err := newAdminAuth(cfg.Username, cfg.Password)
	if err != nil {
		admin, _ = newAdminAuth(cfg.Username, "jellyswarrm")
	}
	return &Server{
		cfg:      cfg,
		repo:     repo,
		reg:      reg,
		backends: backends,
		mapper:   mapper,
		rewriter: rw,
		creds:    creds,
		sessions: sessions,
		engine:   eng,
		dispatch: dispatch,
		auditor:  auditor,
		limiter:  newIPLimiter(repo, 5, 10),
		admin:    admin,
	}
}

// pool exposes the backend client pool to handlers needing a direct
// routed call outside the engine's fan-out path (single-item lookups,
// image proxying).
func (s *Server) pool() *backendclient.Pool { return s.backends }

// Router builds the full mux.Router for the proxy's HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests(s.auditor))

	r.HandleFunc("/System/Info/Public", s.handleSystemInfoPublic).Methods("GET")
	r.HandleFunc("/System/Info", requireSession(s.sessions)(s.handleSystemInfo)).Methods("GET")

	r.HandleFunc("/Users/AuthenticateByName", s.limiter.rateLimit("authenticate", s.handleAuthenticateByName)).Methods("POST")
	r.HandleFunc("/Users/{uid}", requireSession(s.sessions)(s.handleGetUser)).Methods("GET")
	r.HandleFunc("/Users/{uid}/Views", requireSession(s.sessions)(s.handleViews)).Methods("GET")
	r.HandleFunc("/Users/{uid}/Items", requireSession(s.sessions)(s.handleItems)).Methods("GET")

	r.HandleFunc("/Items/{id}", requireSession(s.sessions)(s.handleItemByID)).Methods("GET")
	r.HandleFunc("/Items/{id}/Images/{type}", requireSession(s.sessions)(s.handleItemImage)).Methods("GET")
	r.HandleFunc("/Items/Latest", requireSession(s.sessions)(s.handleLatest)).Methods("GET")

	r.HandleFunc("/Videos/{id}/stream", requireSession(s.sessions)(s.handleVideoStream)).Methods("GET")
	r.HandleFunc("/Videos/{id}/master.m3u8", requireSession(s.sessions)(s.handleVideoStream)).Methods("GET")
	r.HandleFunc("/Audio/{id}/stream", requireSession(s.sessions)(s.handleAudioStream)).Methods("GET")
	r.HandleFunc("/Audio/{id}/stream.{container}", requireSession(s.sessions)(s.handleAudioStream)).Methods("GET")

	r.HandleFunc("/Shows/NextUp", requireSession(s.sessions)(s.handleNextUp)).Methods("GET")
	r.HandleFunc("/Search/Hints", requireSession(s.sessions)(s.handleSearchHints)).Methods("GET")
	r.HandleFunc("/Sessions/Logout", requireSession(s.sessions)(s.handleLogout)).Methods("POST")

	r.HandleFunc("/stream/redirect", s.handleStreamRedirect).Methods("GET")

	r.HandleFunc("/socket", requireSession(s.sessions)(s.handleWebSocket))

	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	adminRouter := r.PathPrefix("/" + s.cfg.UIRoute + "/admin").Subrouter()
	adminRouter.Use(s.admin.middleware)
	adminRouter.HandleFunc("/servers", s.handleAdminListServers).Methods("GET")
	adminRouter.HandleFunc("/servers", s.handleAdminCreateServer).Methods("POST")
	adminRouter.HandleFunc("/servers/{id}", s.handleAdminUpdateServer).Methods("PUT")
	adminRouter.HandleFunc("/servers/{id}", s.handleAdminDeleteServer).Methods("DELETE")
	adminRouter.HandleFunc("/users", s.handleAdminListUsers).Methods("GET")
	adminRouter.HandleFunc("/users/{id}", s.handleAdminDeleteUser).Methods("DELETE")
	adminRouter.HandleFunc("/merged-libraries", s.handleAdminListMergedLibraries).Methods("GET")
	adminRouter.HandleFunc("/merged-libraries", s.handleAdminCreateMergedLibrary).Methods("POST")
	adminRouter.HandleFunc("/merged-libraries/{virtualId}", s.handleAdminDeleteMergedLibrary).Methods("DELETE")

	web.AddRoutes(r, s.cfg.UIRoute)

	return r
}

// backendsForUser resolves every backend the virtual user has a mapping
// for into an engine.BackendContext, establishing (or reusing) one
// AuthorizationSession per mapping. A mapping whose backend cannot be
// reached is logged and omitted rather than failing the whole request —
// the same partial-failure policy the engine applies to fan-out itself.
func (s *Server) backendsForUser(ctx context.Context, userID string, dev session.DeviceInfo, onlineOnly bool) ([]engine.BackendContext, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.repo.ListServerMappingsForUser(userID)
	if err != nil {
		return nil, err
	}

	online := map[int64]bool{}
	if onlineOnly {
		for _, srv := range s.reg.Online() {
			online[srv.ID] = true
		}
	}

	backends := make([]engine.BackendContext, 0, len(mappings))
	for i := range mappings {
		mapping := mappings[i]
		srv, ok := s.reg.ByURL(mapping.ServerURL)
		if !ok {
			continue
		}
		if onlineOnly && !online[srv.ID] {
			continue
		}
		sess, _, err := s.sessions.Establish(ctx, user, &mapping, dev)
		if err != nil {
			logging.Log.WithError(err).WithField("server", srv.Name).Warn("failed to establish backend session")
			continue
		}
		backends = append(backends, engine.BackendContext{Server: srv, AccessToken: sess.BackendToken, BackendUserID: sess.BackendUserID})
	}
	return backends, nil
}

// backendForMapping resolves the single backend a routed request's
// virtual id belongs to, establishing a session for it specifically.
func (s *Server) backendForMapping(ctx context.Context, userID, serverURL string, dev session.DeviceInfo) (engine.BackendContext, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return engine.BackendContext{}, err
	}
	mapping, err := s.repo.GetServerMapping(userID, serverURL)
	if err != nil {
		return engine.BackendContext{}, err
	}
	srv, ok := s.reg.ByURL(serverURL)
	if !ok {
		return engine.BackendContext{}, jerrors.Config("unknown server "+serverURL, nil)
	}
	sess, _, err := s.sessions.Establish(ctx, user, mapping, dev)
	if err != nil {
		return engine.BackendContext{}, err
	}
	return engine.BackendContext{Server: srv, AccessToken: sess.BackendToken, BackendUserID: sess.BackendUserID}, nil
}
