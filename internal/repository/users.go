package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"jellyswarrm/internal/models"
)

const userColumns = `id, virtual_auth_key, original_username, password_hash, last_login_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.VirtualAuthKey, &u.OriginalUsername, &u.PasswordHash, &lastLogin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	return &u, nil
}

// CreateUser inserts a new virtual user. On a (original_username,
// password_hash) collision — the collapsing rule of spec §4.3 — the
// existing row is returned instead of erroring, making this call
// idempotent the way ID Mapper's to_virtual is.
func (s *SQLiteRepository) CreateUser(u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	_, err := s.DB.Exec(`
		INSERT INTO users (id, virtual_auth_key, original_username, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.VirtualAuthKey, u.OriginalUsername, u.PasswordHash, now)
	if err != nil {
		if isUniqueConstraint(err) {
			return s.GetUserByUsernameAndHash(u.OriginalUsername, u.PasswordHash)
		}
		return nil, err
	}
	return u, nil
}

func (s *SQLiteRepository) GetUserByID(id string) (*models.User, error) {
	row := s.DB.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteRepository) GetUserByUsernameAndHash(username, passwordHash string) (*models.User, error) {
	row := s.DB.QueryRow(`SELECT `+userColumns+` FROM users WHERE original_username = ? AND password_hash = ?`, username, passwordHash)
	return scanUser(row)
}

func (s *SQLiteRepository) GetUserByVirtualAuthKey(key string) (*models.User, error) {
	row := s.DB.QueryRow(`SELECT `+userColumns+` FROM users WHERE virtual_auth_key = ?`, key)
	return scanUser(row)
}

func (s *SQLiteRepository) ListUsers() ([]models.User, error) {
	rows, err := s.DB.Query(`SELECT ` + userColumns + ` FROM users ORDER BY original_username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) UpdateUserLastLogin(id string, t time.Time) error {
	_, err := s.DB.Exec(`UPDATE users SET last_login_at = ? WHERE id = ?`, t, id)
	return err
}

func (s *SQLiteRepository) DeleteUser(id string) error {
	_, err := s.DB.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

// isUniqueConstraint reports whether err is a SQLite UNIQUE constraint
// violation. modernc.org/sqlite surfaces these as plain-text errors rather
// than a typed sentinel, so this matches on the message substring SQLite
// itself uses.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"UNIQUE constraint", "constraint failed"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
