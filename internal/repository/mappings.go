package repository

import (
	"database/sql"
	"errors"

	"jellyswarrm/internal/models"
)

const mappingColumns = `id, user_id, server_url, mapped_username, mapped_password_ct`

func scanMapping(row interface{ Scan(...any) error }) (*models.ServerMapping, error) {
	var m models.ServerMapping
	err := row.Scan(&m.ID, &m.UserID, &m.ServerURL, &m.MappedUsername, &m.MappedPasswordCT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateServerMapping inserts a user's credentials for one backend.
// Invariant: unique per (user, server) — enforced by the schema.
func (s *SQLiteRepository) CreateServerMapping(m *models.ServerMapping) (*models.ServerMapping, error) {
	res, err := s.DB.Exec(`
		INSERT INTO server_mappings (user_id, server_url, mapped_username, mapped_password_ct)
		VALUES (?, ?, ?, ?)`,
		m.UserID, m.ServerURL, m.MappedUsername, m.MappedPasswordCT)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

func (s *SQLiteRepository) GetServerMapping(userID, serverURL string) (*models.ServerMapping, error) {
	row := s.DB.QueryRow(`SELECT `+mappingColumns+` FROM server_mappings WHERE user_id = ? AND server_url = ?`, userID, serverURL)
	return scanMapping(row)
}

func (s *SQLiteRepository) GetServerMappingByID(id int64) (*models.ServerMapping, error) {
	row := s.DB.QueryRow(`SELECT `+mappingColumns+` FROM server_mappings WHERE id = ?`, id)
	return scanMapping(row)
}

func (s *SQLiteRepository) ListServerMappingsForUser(userID string) ([]models.ServerMapping, error) {
	rows, err := s.DB.Query(`SELECT `+mappingColumns+` FROM server_mappings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ServerMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) DeleteServerMapping(id int64) error {
	_, err := s.DB.Exec(`DELETE FROM server_mappings WHERE id = ?`, id)
	return err
}
