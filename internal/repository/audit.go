package repository

import "jellyswarrm/internal/models"

// CreateAuditLog, CreateHealthHistory and CreateRateLimitEvent are
// write-only: nothing in the core reads them back (they exist for
// operators querying the DB directly), so no corresponding Get/List
// methods are part of the Repository interface (spec §3).

func (s *SQLiteRepository) CreateAuditLog(e *models.AuditLog) error {
	detailsJSON, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO audit_log (id, action, actor, resource, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Actor, e.Resource, detailsJSON, e.CreatedAt)
	return err
}

func (s *SQLiteRepository) CreateHealthHistory(e *models.ServerHealthHistory) error {
	_, err := s.DB.Exec(`
		INSERT INTO server_health_history (id, server_id, success, response_time_ns, backend_server_id, backend_version, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ServerID, e.Success, e.ResponseTime.Nanoseconds(), e.BackendServerID, e.BackendVersion, e.Error, e.CheckedAt)
	return err
}

func (s *SQLiteRepository) CreateRateLimitEvent(e *models.RateLimitEvent) error {
	_, err := s.DB.Exec(`INSERT INTO rate_limit_events (id, remote_ip, route, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.RemoteIP, e.Route, e.CreatedAt)
	return err
}
