package repository

import (
	"database/sql"
	"errors"
	"time"

	"jellyswarrm/internal/models"
)

// UpsertMediaMapping is the durable half of the ID Mapper's to_virtual
// operation. It is safe under concurrent insert: an `INSERT ... ON
// CONFLICT DO UPDATE` followed by a SELECT of the (original_id,
// server_url) row makes the call idempotent without a read-then-write
// race (spec §5). A cached mapping is returned without calling mint;
// otherwise mint is called for every insert attempt, its value is
// discarded when the row already exists, and it is called again on a
// virtual-id collision (vanishingly unlikely with a 128-bit token, but
// spec §4.1 requires the retry).
func (s *SQLiteRepository) UpsertMediaMapping(serverURL, originalID string, mint func() (string, error)) (*models.MediaMapping, error) {
	if cached, ok := s.Cache.Get("media:o:" + serverURL + "|" + originalID); ok {
		m := cached.(models.MediaMapping)
		return &m, nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		virtualID, err := mint()
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		_, err = s.DB.Exec(`
			INSERT INTO media_mappings (virtual_id, original_id, server_url, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(original_id, server_url) DO UPDATE SET original_id = excluded.original_id`,
			virtualID, originalID, serverURL, now)
		if err != nil {
			if isUniqueConstraint(err) {
				continue // virtual_id collision; mint a new one and retry
			}
			return nil, err
		}

		row := s.DB.QueryRow(`SELECT virtual_id, original_id, server_url, created_at FROM media_mappings WHERE original_id = ? AND server_url = ?`, originalID, serverURL)
		m, err := scanMediaMapping(row)
		if err != nil {
			return nil, err
		}
		s.cacheMediaMapping(m)
		return m, nil
	}
	return nil, errors.New("repository: exhausted retries minting virtual media id")
}

func scanMediaMapping(row interface{ Scan(...any) error }) (*models.MediaMapping, error) {
	var m models.MediaMapping
	err := row.Scan(&m.VirtualID, &m.OriginalID, &m.ServerURL, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// media mappings are immutable once minted (spec §3), so they're cached
// with the repository's default expiration (NoExpiration) — only a
// process restart clears them.
func (s *SQLiteRepository) cacheMediaMapping(m *models.MediaMapping) {
	s.Cache.SetDefault("media:o:"+m.ServerURL+"|"+m.OriginalID, *m)
	s.Cache.SetDefault("media:v:"+m.VirtualID, *m)
}

func (s *SQLiteRepository) GetMediaMappingByVirtualID(virtualID string) (*models.MediaMapping, error) {
	if cached, ok := s.Cache.Get("media:v:" + virtualID); ok {
		m := cached.(models.MediaMapping)
		return &m, nil
	}
	row := s.DB.QueryRow(`SELECT virtual_id, original_id, server_url, created_at FROM media_mappings WHERE virtual_id = ?`, virtualID)
	m, err := scanMediaMapping(row)
	if err != nil {
		return nil, err
	}
	s.cacheMediaMapping(m)
	return m, nil
}
