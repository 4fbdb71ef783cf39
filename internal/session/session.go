// Package session implements the Session Manager (spec §4.4): the
// lifecycle of one AuthorizationSession per (virtual user, mapping,
// device), including silent re-authentication on backend token expiry
// and logout.
package session

import (
	"context"
	"time"

	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/credentials"
	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"

	"github.com/patrickmn/go-cache"
)

// tokenCacheTTL is the hot-path TTL cache spec §9 calls for: "a hash map
// backed by the DB, with a TTL cache (seconds) in front, invalidated on
// logout."
const tokenCacheTTL = 30 * time.Second

// proxyTokenEntropy is the byte length fed to cryptoutil.RandomToken,
// producing a 256-bit token per spec §6.
const proxyTokenEntropy = 32

// Manager owns AuthorizationSession creation, lookup, silent refresh and
// teardown.
type Manager struct {
	repo  repository.Repository
	reg   *registry.Registry
	pool  *backendclient.Pool
	creds *credentials.Store
	cache *cache.Cache
}

func New(repo repository.Repository, reg *registry.Registry, pool *backendclient.Pool, creds *credentials.Store) *Manager {
	return &Manager{
		repo:  repo,
		reg:   reg,
		pool:  pool,
		creds: creds,
		cache: cache.New(tokenCacheTTL, 2*tokenCacheTTL),
	}
}

// DeviceInfo is the parsed X-Emby-Authorization fields the session is
// keyed and annotated on (spec §4.4).
type DeviceInfo struct {
	ClientName string
	DeviceName string
	DeviceID   string
	AppVersion string
}

// Establish returns the live AuthorizationSession for (user, mapping,
// device), authenticating against the backend if none exists yet or the
// existing one has expired. The proxy token is only returned on first
// creation; on an existing session the caller already holds or looked up
// the token that resolved here.
func (m *Manager) Establish(ctx context.Context, user *models.User, mapping *models.ServerMapping, dev DeviceInfo) (*models.AuthorizationSession, string, error) {
	existing, err := m.repo.GetSession(user.ID, mapping.ID, dev.DeviceID)
	switch {
	case err == nil:
		if !existing.Expired(time.Now()) {
			m.touch(existing)
			return existing, "", nil
		}
		if err := m.refresh(ctx, existing, mapping); err != nil {
			return nil, "", err
		}
		return existing, "", nil
	case err == repository.ErrNotFound:
		return m.create(ctx, user, mapping, dev)
	default:
		return nil, "", jerrors.Persistence("looking up session", err)
	}
}

func (m *Manager) create(ctx context.Context, user *models.User, mapping *models.ServerMapping, dev DeviceInfo) (*models.AuthorizationSession, string, error) {
	srv, ok := m.reg.ByURL(mapping.ServerURL)
	if !ok {
		return nil, "", jerrors.Config("server mapping references unknown server "+mapping.ServerURL, nil)
	}

	password, err := m.creds.DecryptMapping(mapping)
	if err != nil {
		return nil, "", err
	}

	client := m.pool.For(srv)
	auth, err := client.AuthenticateByName(ctx, mapping.MappedUsername, password)
	if err != nil {
		return nil, "", err
	}

	proxyToken, err := cryptoutil.RandomToken(proxyTokenEntropy)
	if err != nil {
		return nil, "", jerrors.Config("minting proxy token", err)
	}

	sess, err := m.repo.CreateSession(&models.AuthorizationSession{
		UserID:         user.ID,
		MappingID:      mapping.ID,
		ServerURL:      mapping.ServerURL,
		ClientName:     dev.ClientName,
		DeviceName:     dev.DeviceName,
		DeviceID:       dev.DeviceID,
		AppVersion:     dev.AppVersion,
		ProxyToken:     proxyToken,
		ProxyTokenHash: cryptoutil.HashToken(proxyToken),
		BackendToken:   auth.AccessToken,
		BackendUserID:  auth.BackendUserID,
		LastUsedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, "", jerrors.Persistence("creating session", err)
	}
	m.cache.Set(sess.ProxyTokenHash, sess, cache.DefaultExpiration)
	return sess, proxyToken, nil
}

// refresh performs the silent re-authentication spec §4.4 requires when
// a session's backend token has expired.
func (m *Manager) refresh(ctx context.Context, sess *models.AuthorizationSession, mapping *models.ServerMapping) error {
	srv, ok := m.reg.ByURL(sess.ServerURL)
	if !ok {
		return jerrors.Config("session references unknown server "+sess.ServerURL, nil)
	}
	password, err := m.creds.DecryptMapping(mapping)
	if err != nil {
		return err
	}
	client := m.pool.For(srv)
	auth, err := client.AuthenticateByName(ctx, mapping.MappedUsername, password)
	if err != nil {
		return jerrors.Unauthorized("silent re-authentication failed: " + err.Error())
	}
	if err := m.repo.UpdateSessionBackendToken(sess.ID, auth.AccessToken, nil); err != nil {
		return jerrors.Persistence("updating session token", err)
	}
	sess.BackendToken = auth.AccessToken
	sess.ExpiresAt = nil
	m.touch(sess)
	return nil
}

func (m *Manager) touch(sess *models.AuthorizationSession) {
	now := time.Now().UTC()
	sess.LastUsedAt = now
	_ = m.repo.TouchSession(sess.ID, now)
	m.cache.Set(sess.ProxyTokenHash, sess, cache.DefaultExpiration)
}

// Resolve looks up the live session for a client-presented proxy token.
// Checked against the TTL cache first, falling back to the DB.
func (m *Manager) Resolve(ctx context.Context, proxyToken string) (*models.AuthorizationSession, error) {
	hash := cryptoutil.HashToken(proxyToken)
	if cached, ok := m.cache.Get(hash); ok {
		sess := cached.(*models.AuthorizationSession)
		m.touch(sess)
		return sess, nil
	}

	sess, err := m.repo.GetSessionByTokenHash(hash)
	if err == repository.ErrNotFound {
		return nil, jerrors.Unauthorized("unknown or expired session token")
	}
	if err != nil {
		return nil, jerrors.Persistence("looking up session", err)
	}

	if sess.Expired(time.Now()) {
		mapping, err := m.repo.GetServerMappingByID(sess.MappingID)
		if err != nil {
			return nil, jerrors.Persistence("loading server mapping for refresh", err)
		}
		if err := m.refresh(ctx, sess, mapping); err != nil {
			return nil, err
		}
	}
	m.touch(sess)
	return sess, nil
}

// Logout destroys every session for (userID, deviceID) — all backends,
// per spec §4.4 "Logout destroys all sessions for the (user, device)."
func (m *Manager) Logout(userID, deviceID string) error {
	if err := m.repo.DeleteSessionsForDevice(userID, deviceID); err != nil {
		return jerrors.Persistence("deleting sessions", err)
	}
	// The cache is keyed by token hash, not by (user, device), so a
	// targeted eviction would require fetching every deleted session's
	// hash first. A full flush is simpler and logout is rare enough that
	// the resulting cold cache for other users is not a concern.
	m.cache.Flush()
	return nil
}
