package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"jellyswarrm/internal/engine"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/logging"

	"github.com/gorilla/mux"
)

const defaultFanOutLimit = 20

// handleSystemInfoPublic is the unauthenticated probe every client (and
// the health prober itself, spec §4.2) hits first to discover identity.
func (s *Server) handleSystemInfoPublic(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"ServerName": s.cfg.ServerName,
		"Version":    "10.9.0",
		"Id":         s.cfg.ServerID,
		"ProductName": "Jellyswarrm",
		"StartupWizardCompleted": true,
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	s.handleSystemInfoPublic(w, r)
}

type authenticateByNameRequest struct {
	Username string `json:"Username"`
	Pw       string `json:"Pw"`
}

// handleAuthenticateByName authenticates a virtual user, running
// auto-discovery across every configured backend on first login (spec
// §4.3 scenario 2), and establishes one AuthorizationSession per mapped
// backend so a subsequent fanned-out request needs no extra round trip.
func (s *Server) handleAuthenticateByName(w http.ResponseWriter, r *http.Request) {
	parsed, err := parseEmbyAuthorization(r)
	if err != nil {
		parsed = &parsedAuth{}
	}

	var body authenticateByNameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, mappings, err := s.creds.Authenticate(r.Context(), body.Username, body.Pw)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if len(mappings) == 0 {
		respondWithErr(w, jerrors.Unauthorized("no backend accepted these credentials"))
		return
	}

	var proxyToken string
	for i := range mappings {
		sess, token, err := s.sessions.Establish(r.Context(), user, &mappings[i], parsed.DeviceInfo)
		if err != nil {
			logging.Log.WithError(err).Warn("failed to establish session during login")
			continue
		}
		if proxyToken == "" && token != "" {
			proxyToken = token
		} else if proxyToken == "" {
			proxyToken = sess.ProxyToken
		}
	}
	if proxyToken == "" {
		respondWithErr(w, jerrors.Unauthorized("failed to establish a session on any backend"))
		return
	}

	respondJSON(w, map[string]any{
		"User": map[string]any{
			"Id":   user.ID,
			"Name": user.OriginalUsername,
		},
		"AccessToken": proxyToken,
		"ServerId":    s.cfg.ServerID,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	user, err := s.repo.GetUserByID(sess.UserID)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, map[string]any{"Id": user.ID, "Name": user.OriginalUsername})
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())

	backends, err := s.backendsForUser(r.Context(), sess.UserID, dev, true)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	result, err := s.engine.Views(r.Context(), sess.UserID, backends)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())

	backends, err := s.backendsForUser(r.Context(), sess.UserID, dev, true)
	if err != nil {
		respondWithErr(w, err)
		return
	}

	q := r.URL.Query()
	opts := engine.QueryOptions{
		SortBy:    q.Get("SortBy"),
		SortOrder: q.Get("SortOrder"),
	}
	if v := q.Get("StartIndex"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.StartIndex = n
		}
	}
	if v := q.Get("Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = &n
		}
	}

	result, err := s.engine.Items(r.Context(), sess.UserID, q.Get("ParentId"), backends, opts)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, result)
}

// handleItemByID is a routed request (spec §4.5): the virtual id names
// exactly one backend, so the engine is bypassed entirely in favour of a
// single direct fetch through the ID Rewriter.
func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())
	virtualID := mux.Vars(r)["id"]

	serverURL, originalID, err := s.mapper.FromVirtual(virtualID)
	if err != nil {
		respondWithErr(w, jerrors.MappingMissing("unknown item id "+virtualID))
		return
	}
	backend, err := s.backendForMapping(r.Context(), sess.UserID, serverURL, dev)
	if err != nil {
		respondWithErr(w, err)
		return
	}

	client := s.pool().For(backend.Server)
	var item map[string]any
	q := map[string][]string{"UserId": {backend.BackendUserID}}
	if err := client.GetJSON(r.Context(), "/Items/"+originalID, backend.AccessToken, q, &item); err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.rewriter.Outbound(item, serverURL, sess.UserID); err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, item)
}

// handleItemImage proxies one image's bytes from the owning backend. It
// is not routed through the Stream Dispatcher — images are small and
// single-shot, unlike media playback, so a plain copy is enough.
func (s *Server) handleItemImage(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())
	vars := mux.Vars(r)
	virtualID, imageType := vars["id"], vars["type"]

	serverURL, originalID, err := s.mapper.FromVirtual(virtualID)
	if err != nil {
		respondWithErr(w, jerrors.MappingMissing("unknown item id "+virtualID))
		return
	}
	backend, err := s.backendForMapping(r.Context(), sess.UserID, serverURL, dev)
	if err != nil {
		respondWithErr(w, err)
		return
	}

	path := "/Items/" + originalID + "/Images/" + imageType
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, backend.Server.BaseURL+path, nil)
	if err != nil {
		respondWithErr(w, jerrors.Config("building image request", err))
		return
	}
	req.Header.Set("X-Emby-Token", backend.AccessToken)

	resp, err := s.pool().For(backend.Server).Do(r.Context(), req)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) handleVideoStream(w http.ResponseWriter, r *http.Request) {
	s.dispatchStream(w, r, "Videos")
}

func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	s.dispatchStream(w, r, "Audio")
}

// dispatchStream resolves a playback virtual id to its backend and hands
// off to the Stream Dispatcher (spec §4.7).
func (s *Server) dispatchStream(w http.ResponseWriter, r *http.Request, kind string) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())
	virtualID := mux.Vars(r)["id"]

	serverURL, originalID, err := s.mapper.FromVirtual(virtualID)
	if err != nil {
		respondWithErr(w, jerrors.MappingMissing("unknown item id "+virtualID))
		return
	}
	backend, err := s.backendForMapping(r.Context(), sess.UserID, serverURL, dev)
	if err != nil {
		respondWithErr(w, err)
		return
	}

	backendPath := strings.Replace(r.URL.Path, "/"+kind+"/"+virtualID+"/", "/"+kind+"/"+originalID+"/", 1)
	if err := s.dispatch.Dispatch(w, r, serverURL, backendPath, backend.AccessToken); err != nil {
		respondWithErr(w, err)
	}
}

func (s *Server) handleNextUp(w http.ResponseWriter, r *http.Request) {
	s.respondDateRanked(w, r, s.engine.NextUp)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.respondDateRanked(w, r, s.engine.Latest)
}

// respondDateRanked backs both NextUp and Latest: same backend
// resolution, same Limit parsing, only the engine call differs.
func (s *Server) respondDateRanked(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, virtualUserID string, backends []engine.BackendContext, limit int) (*engine.QueryResult, error)) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())

	backends, err := s.backendsForUser(r.Context(), sess.UserID, dev, true)
	if err != nil {
		respondWithErr(w, err)
		return
	}

	limit := defaultFanOutLimit
	if v := r.URL.Query().Get("Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	result, err := fn(r.Context(), sess.UserID, backends, limit)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleSearchHints(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())

	backends, err := s.backendsForUser(r.Context(), sess.UserID, dev, true)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	result, err := s.engine.Search(r.Context(), sess.UserID, r.URL.Query().Get("SearchTerm"), backends)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, map[string]any{"SearchHints": result.Items, "TotalRecordCount": result.TotalRecordCount})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())
	if err := s.sessions.Logout(sess.UserID, dev.DeviceID); err != nil {
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamRedirect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "missing token")
		return
	}
	if err := s.dispatch.ServeRedirectToken(w, r, token); err != nil {
		respondWithErr(w, err)
	}
}

