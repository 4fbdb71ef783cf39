package repository

import (
	"database/sql"
	"errors"
	"time"

	"jellyswarrm/internal/models"
)

func (s *SQLiteRepository) CreateServer(srv *models.Server) (*models.Server, error) {
	now := time.Now().UTC()
	res, err := s.DB.Exec(`
		INSERT INTO servers (name, base_url, priority, admin_username, admin_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		srv.Name, srv.BaseURL, srv.Priority, srv.AdminUsername, srv.AdminPassword, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	srv.ID = id
	srv.CreatedAt, srv.UpdatedAt = now, now
	return srv, nil
}

func scanServer(row interface{ Scan(...any) error }) (*models.Server, error) {
	var srv models.Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.BaseURL, &srv.Priority,
		&srv.AdminUsername, &srv.AdminPassword, &srv.CreatedAt, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

const serverColumns = `id, name, base_url, priority, admin_username, admin_password, created_at, updated_at`

func (s *SQLiteRepository) GetServer(id int64) (*models.Server, error) {
	row := s.DB.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

func (s *SQLiteRepository) GetServerByName(name string) (*models.Server, error) {
	row := s.DB.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	return scanServer(row)
}

// ListServers returns every configured backend ordered priority DESC, name
// ASC — the canonical fan-out iteration order (spec §4.2).
func (s *SQLiteRepository) ListServers() ([]models.Server, error) {
	rows, err := s.DB.Query(`SELECT ` + serverColumns + ` FROM servers ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) UpdateServer(srv *models.Server) error {
	srv.UpdatedAt = time.Now().UTC()
	_, err := s.DB.Exec(`
		UPDATE servers SET name = ?, base_url = ?, priority = ?, admin_username = ?, admin_password = ?, updated_at = ?
		WHERE id = ?`,
		srv.Name, srv.BaseURL, srv.Priority, srv.AdminUsername, srv.AdminPassword, srv.UpdatedAt, srv.ID)
	return err
}

// DeleteServer cascades to server_mappings, authorization_sessions and
// merged_library_sources via foreign keys (spec §3: "deleted only after
// its dependent sessions and mappings are cascaded").
func (s *SQLiteRepository) DeleteServer(id int64) error {
	_, err := s.DB.Exec(`DELETE FROM servers WHERE id = ?`, id)
	return err
}
