package repository

import (
	"database/sql"
	"errors"

	"jellyswarrm/internal/models"
)

// CreateMergedLibrary inserts the library row and its pinned sources in a
// single transaction — partial writes would otherwise leave the engine
// dereferencing a library with no sources.
func (s *SQLiteRepository) CreateMergedLibrary(l *models.MergedLibrary) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner sql.NullString
	if l.OwnerUserID != "" {
		owner = sql.NullString{String: l.OwnerUserID, Valid: true}
	}
	_, err = tx.Exec(`INSERT INTO merged_libraries (virtual_id, display_name, collection_type, dedup_strategy, owner_user_id) VALUES (?, ?, ?, ?, ?)`,
		l.VirtualID, l.DisplayName, string(l.CollectionType), string(l.Dedup), owner)
	if err != nil {
		return err
	}
	for _, src := range l.Sources {
		_, err = tx.Exec(`INSERT INTO merged_library_sources (merged_virtual_id, server_id, backend_library_id, priority) VALUES (?, ?, ?, ?)`,
			l.VirtualID, src.ServerID, src.BackendLibraryID, src.Priority)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteRepository) GetMergedLibrary(virtualID string) (*models.MergedLibrary, error) {
	var owner sql.NullString
	var l models.MergedLibrary
	row := s.DB.QueryRow(`SELECT virtual_id, display_name, collection_type, dedup_strategy, owner_user_id FROM merged_libraries WHERE virtual_id = ?`, virtualID)
	var collType, dedup string
	if err := row.Scan(&l.VirtualID, &l.DisplayName, &collType, &dedup, &owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.CollectionType = models.CollectionType(collType)
	l.Dedup = models.DedupStrategy(dedup)
	if owner.Valid {
		l.OwnerUserID = owner.String
	}

	sources, err := s.listMergedSources(virtualID)
	if err != nil {
		return nil, err
	}
	l.Sources = sources
	return &l, nil
}

func (s *SQLiteRepository) listMergedSources(virtualID string) ([]models.MergedLibrarySource, error) {
	rows, err := s.DB.Query(`SELECT id, merged_virtual_id, server_id, backend_library_id, priority FROM merged_library_sources WHERE merged_virtual_id = ? ORDER BY priority DESC`, virtualID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MergedLibrarySource
	for rows.Next() {
		var src models.MergedLibrarySource
		if err := rows.Scan(&src.ID, &src.MergedVirtualID, &src.ServerID, &src.BackendLibraryID, &src.Priority); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ListMergedLibraries returns global libraries plus, if ownerUserID is
// non-empty, that user's own libraries (spec §3: "ownership scope global
// or per-user").
func (s *SQLiteRepository) ListMergedLibraries(ownerUserID string) ([]models.MergedLibrary, error) {
	rows, err := s.DB.Query(`SELECT virtual_id FROM merged_libraries WHERE owner_user_id IS NULL OR owner_user_id = ?`, ownerUserID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]models.MergedLibrary, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetMergedLibrary(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *SQLiteRepository) DeleteMergedLibrary(virtualID string) error {
	_, err := s.DB.Exec(`DELETE FROM merged_libraries WHERE virtual_id = ?`, virtualID)
	return err
}
