package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// The admin REST surface (`/ui/admin/*`) is a small CRUD API over
// Server, User and MergedLibrary rows, guarded by adminAuth rather than
// the Jellyfin session machinery — it is consumed by the (out-of-scope)
// admin UI, not by Jellyfin clients.

func (s *Server) handleAdminListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.repo.ListServers()
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, servers)
}

func (s *Server) handleAdminCreateServer(w http.ResponseWriter, r *http.Request) {
	var srv models.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed server body")
		return
	}
	created, err := s.repo.CreateServer(&srv)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.reg.Reload(); err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, created)
}

func (s *Server) handleAdminUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseServerID(r)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	var srv models.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed server body")
		return
	}
	srv.ID = id
	if err := s.repo.UpdateServer(&srv); err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.reg.Reload(); err != nil {
		respondWithErr(w, err)
		return
	}
	s.backends.Evict(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseServerID(r)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.repo.DeleteServer(id); err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.reg.Reload(); err != nil {
		respondWithErr(w, err)
		return
	}
	s.backends.Evict(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.repo.ListUsers()
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, users)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.repo.DeleteUser(id); err != nil {
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListMergedLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.repo.ListMergedLibraries(r.URL.Query().Get("owner_user_id"))
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, libs)
}

func (s *Server) handleAdminCreateMergedLibrary(w http.ResponseWriter, r *http.Request) {
	var lib models.MergedLibrary
	if err := json.NewDecoder(r.Body).Decode(&lib); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed merged library body")
		return
	}
	if lib.VirtualID == "" {
		lib.VirtualID = uuid.NewString()
	}
	if err := s.repo.CreateMergedLibrary(&lib); err != nil {
		respondWithErr(w, err)
		return
	}
	respondJSON(w, lib)
}

func (s *Server) handleAdminDeleteMergedLibrary(w http.ResponseWriter, r *http.Request) {
	virtualID := mux.Vars(r)["virtualId"]
	if err := s.repo.DeleteMergedLibrary(virtualID); err != nil {
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseServerID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	var id int64
	if _, err := fmt.Sscan(raw, &id); err != nil {
		return 0, jerrors.Config("invalid server id "+raw, err)
	}
	return id, nil
}
