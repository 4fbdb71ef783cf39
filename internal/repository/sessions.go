package repository

import (
	"database/sql"
	"errors"
	"time"

	"jellyswarrm/internal/models"
)

const sessionColumns = `id, user_id, mapping_id, server_url, client_name, device_name, device_id,
	app_version, proxy_token_hash, backend_token, backend_user_id, expires_at, last_used_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*models.AuthorizationSession, error) {
	var sess models.AuthorizationSession
	var expiresAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &sess.MappingID, &sess.ServerURL, &sess.ClientName,
		&sess.DeviceName, &sess.DeviceID, &sess.AppVersion, &sess.ProxyTokenHash,
		&sess.BackendToken, &sess.BackendUserID, &expiresAt, &sess.LastUsedAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		sess.ExpiresAt = &expiresAt.Time
	}
	return &sess, nil
}

// CreateSession persists a new AuthorizationSession. Invariant: unique per
// (user, mapping, device_id) — the schema enforces it; callers that hit a
// conflict should instead look up and update the existing row (the
// session manager's responsibility, not the repository's).
func (s *SQLiteRepository) CreateSession(sess *models.AuthorizationSession) (*models.AuthorizationSession, error) {
	now := time.Now().UTC()
	sess.CreatedAt, sess.LastUsedAt = now, now
	res, err := s.DB.Exec(`
		INSERT INTO authorization_sessions
			(user_id, mapping_id, server_url, client_name, device_name, device_id,
			 app_version, proxy_token_hash, backend_token, backend_user_id, expires_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, sess.MappingID, sess.ServerURL, sess.ClientName, sess.DeviceName, sess.DeviceID,
		sess.AppVersion, sess.ProxyTokenHash, sess.BackendToken, sess.BackendUserID, sess.ExpiresAt, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

func (s *SQLiteRepository) GetSessionByTokenHash(tokenHash string) (*models.AuthorizationSession, error) {
	if cached, ok := s.Cache.Get("sess:" + tokenHash); ok {
		sess := cached.(models.AuthorizationSession)
		return &sess, nil
	}
	row := s.DB.QueryRow(`SELECT `+sessionColumns+` FROM authorization_sessions WHERE proxy_token_hash = ?`, tokenHash)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	s.Cache.Set("sess:"+tokenHash, *sess, 30*time.Second)
	return sess, nil
}

func (s *SQLiteRepository) GetSession(userID string, mappingID int64, deviceID string) (*models.AuthorizationSession, error) {
	row := s.DB.QueryRow(`SELECT `+sessionColumns+` FROM authorization_sessions WHERE user_id = ? AND mapping_id = ? AND device_id = ?`,
		userID, mappingID, deviceID)
	return scanSession(row)
}

// UpdateSessionBackendToken refreshes the backend token after a silent
// re-authentication (spec §4.4) and invalidates any cached copy.
func (s *SQLiteRepository) UpdateSessionBackendToken(id int64, backendToken string, expiresAt *time.Time) error {
	sess, err := s.sessionByID(id)
	if err == nil {
		s.Cache.Delete("sess:" + sess.ProxyTokenHash)
	}
	_, err = s.DB.Exec(`UPDATE authorization_sessions SET backend_token = ?, expires_at = ? WHERE id = ?`, backendToken, expiresAt, id)
	return err
}

// TouchSession updates last_used_at on every lookup (spec §3: "refreshed
// on use") and evicts the cache entry so the next read picks up the fresh
// timestamp from the DB.
func (s *SQLiteRepository) TouchSession(id int64, t time.Time) error {
	sess, err := s.sessionByID(id)
	if err == nil {
		s.Cache.Delete("sess:" + sess.ProxyTokenHash)
	}
	_, err = s.DB.Exec(`UPDATE authorization_sessions SET last_used_at = ? WHERE id = ?`, t, id)
	return err
}

func (s *SQLiteRepository) sessionByID(id int64) (*models.AuthorizationSession, error) {
	row := s.DB.QueryRow(`SELECT `+sessionColumns+` FROM authorization_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// DeleteSessionsForDevice destroys all sessions for (user, device) across
// every backend — spec §4.4's logout semantics.
func (s *SQLiteRepository) DeleteSessionsForDevice(userID, deviceID string) error {
	rows, err := s.DB.Query(`SELECT proxy_token_hash FROM authorization_sessions WHERE user_id = ? AND device_id = ?`, userID, deviceID)
	if err != nil {
		return err
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return err
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	for _, h := range hashes {
		s.Cache.Delete("sess:" + h)
	}
	_, err = s.DB.Exec(`DELETE FROM authorization_sessions WHERE user_id = ? AND device_id = ?`, userID, deviceID)
	return err
}

func (s *SQLiteRepository) DeleteSession(id int64) error {
	sess, err := s.sessionByID(id)
	if err == nil {
		s.Cache.Delete("sess:" + sess.ProxyTokenHash)
	}
	_, err = s.DB.Exec(`DELETE FROM authorization_sessions WHERE id = ?`, id)
	return err
}
