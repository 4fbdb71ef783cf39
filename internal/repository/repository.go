// Package repository is the single owner of all durable rows. Every other
// component holds only copies or short-lived borrows scoped to a request.
package repository

import (
	"time"

	"jellyswarrm/internal/models"
)

// Repository is the full persistence surface used by the rest of the
// proxy. The sqlite implementation is the only one shipped; the interface
// exists so the engine/session/credentials packages can be unit tested
// against hand-written fakes instead of a real database.
type Repository interface {
	Close() error

	// Servers
	CreateServer(s *models.Server) (*models.Server, error)
	GetServer(id int64) (*models.Server, error)
	GetServerByName(name string) (*models.Server, error)
	ListServers() ([]models.Server, error)
	UpdateServer(s *models.Server) error
	DeleteServer(id int64) error

	// Users
	CreateUser(u *models.User) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	GetUserByUsernameAndHash(username, passwordHash string) (*models.User, error)
	GetUserByVirtualAuthKey(key string) (*models.User, error)
	ListUsers() ([]models.User, error)
	UpdateUserLastLogin(id string, t time.Time) error
	DeleteUser(id string) error

	// Server mappings (per-user, per-backend credentials)
	CreateServerMapping(m *models.ServerMapping) (*models.ServerMapping, error)
	GetServerMapping(userID, serverURL string) (*models.ServerMapping, error)
	GetServerMappingByID(id int64) (*models.ServerMapping, error)
	ListServerMappingsForUser(userID string) ([]models.ServerMapping, error)
	DeleteServerMapping(id int64) error

	// Authorization sessions
	CreateSession(s *models.AuthorizationSession) (*models.AuthorizationSession, error)
	GetSessionByTokenHash(tokenHash string) (*models.AuthorizationSession, error)
	GetSession(userID string, mappingID int64, deviceID string) (*models.AuthorizationSession, error)
	UpdateSessionBackendToken(id int64, backendToken string, expiresAt *time.Time) error
	TouchSession(id int64, t time.Time) error
	DeleteSessionsForDevice(userID, deviceID string) error
	DeleteSession(id int64) error

	// Media mappings — the ID Mapper's durable backing store.
	UpsertMediaMapping(serverURL, originalID string, mint func() (string, error)) (*models.MediaMapping, error)
	GetMediaMappingByVirtualID(virtualID string) (*models.MediaMapping, error)

	// Merged libraries
	CreateMergedLibrary(l *models.MergedLibrary) error
	GetMergedLibrary(virtualID string) (*models.MergedLibrary, error)
	ListMergedLibraries(ownerUserID string) ([]models.MergedLibrary, error)
	DeleteMergedLibrary(virtualID string) error

	// Write-only operational entities
	CreateAuditLog(e *models.AuditLog) error
	CreateHealthHistory(e *models.ServerHealthHistory) error
	CreateRateLimitEvent(e *models.RateLimitEvent) error

	// Migration
	MigrateUp() error
	MigrateDown() error
}

// ErrNotFound is returned by lookups that find no matching row. Callers
// translate it into the appropriate jerrors.Kind for their context
// (MappingMissing, Unauthorized, 404, ...).
var ErrNotFound = notFoundError("not found")

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
