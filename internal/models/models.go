// Package models contains the durable entities shared across the
// persistence, engine and HTTP layers.
package models

import "time"

// Server is a configured upstream Jellyfin instance.
type Server struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	Priority      int       `json:"priority"`
	AdminUsername string    `json:"admin_username,omitempty"`
	AdminPassword string    `json:"-"`
	Online        bool      `json:"online"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// User is a proxy-local virtual identity.
type User struct {
	ID               string    `json:"id"`
	VirtualAuthKey   string    `json:"virtual_auth_key"`
	OriginalUsername string    `json:"username"`
	PasswordHash     string    `json:"-"`
	LastLoginAt      time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ServerMapping binds a virtual user to their credentials on one backend.
type ServerMapping struct {
	ID               int64  `json:"id"`
	UserID           string `json:"user_id"`
	ServerURL        string `json:"server_url"`
	MappedUsername   string `json:"mapped_username"`
	MappedPasswordCT []byte `json:"-"` // AES-GCM ciphertext, never serialized
}

// AuthorizationSession is a live authorization for one (user, mapping, device).
type AuthorizationSession struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	MappingID      int64     `json:"mapping_id"`
	ServerURL      string    `json:"server_url"`
	ClientName     string    `json:"client_name"`
	DeviceName     string    `json:"device_name"`
	DeviceID       string    `json:"device_id"`
	AppVersion     string    `json:"app_version"`
	ProxyToken     string    `json:"-"` // opaque token handed to the client
	ProxyTokenHash string    `json:"-"` // sha256(ProxyToken), what's persisted
	BackendToken   string    `json:"-"`
	BackendUserID  string    `json:"backend_user_id"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     time.Time `json:"last_used_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the session's backend token has a known expiry
// that has already passed.
func (s *AuthorizationSession) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// MediaMapping translates a virtual media id to its backend origin.
type MediaMapping struct {
	VirtualID  string    `json:"virtual_id"`
	OriginalID string    `json:"original_id"`
	ServerURL  string    `json:"server_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// DedupStrategy is how MergedLibrary collapses duplicate items.
type DedupStrategy string

const (
	DedupProviderIDs DedupStrategy = "provider_ids"
	DedupNameYear    DedupStrategy = "name_year"
	DedupNone        DedupStrategy = "none"
)

// CollectionType mirrors Jellyfin's library collection types.
type CollectionType string

const (
	CollectionMovies  CollectionType = "movies"
	CollectionTVShows CollectionType = "tvshows"
	CollectionMusic   CollectionType = "music"
)

// MergedLibrary is a user-defined union of backend libraries.
type MergedLibrary struct {
	VirtualID      string         `json:"virtual_id"`
	DisplayName    string         `json:"display_name"`
	CollectionType CollectionType `json:"collection_type"`
	Dedup          DedupStrategy  `json:"dedup_strategy"`
	OwnerUserID    string         `json:"owner_user_id,omitempty"` // empty => global
	Sources        []MergedLibrarySource `json:"sources,omitempty"`
}

// MergedLibrarySource pins one backend library into a MergedLibrary.
type MergedLibrarySource struct {
	ID              int64  `json:"id"`
	MergedVirtualID string `json:"merged_virtual_id"`
	ServerID        int64  `json:"server_id"`
	BackendLibraryID string `json:"backend_library_id"`
	Priority        int    `json:"priority"`
}

// AuditLog is a write-only operational trail entry.
type AuditLog struct {
	ID        string         `json:"id"` // ULID, sortable
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ServerHealthHistory records one health-probe result for a backend.
type ServerHealthHistory struct {
	ID               string        `json:"id"` // ULID
	ServerID         int64         `json:"server_id"`
	Success          bool          `json:"success"`
	ResponseTime     time.Duration `json:"response_time_ns"`
	BackendServerID  string        `json:"backend_server_id,omitempty"`
	BackendVersion   string        `json:"backend_version,omitempty"`
	Error            string        `json:"error,omitempty"`
	CheckedAt        time.Time     `json:"checked_at"`
}

// RateLimitEvent records a throttled request for audit/debugging.
type RateLimitEvent struct {
	ID        string    `json:"id"` // ULID
	RemoteIP  string    `json:"remote_ip"`
	Route     string    `json:"route"`
	CreatedAt time.Time `json:"created_at"`
}
