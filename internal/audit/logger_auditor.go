// filepath: internal/audit/logger_auditor.go
package audit

import (
	"context"

	"jellyswarrm/internal/logging"

	"github.com/sirupsen/logrus"
)

var _ Auditor = (*LoggerAuditor)(nil)

// LoggerAuditor writes audit events to the standard application log.
// Persisting to the AuditLog table is the repository's job; this auditor
// is the sink that handlers and the engine call directly so that audit
// emission never blocks on a DB round trip on the request path.
type LoggerAuditor struct {
	enabled bool
	sink    func(action, actor, resource string, details map[string]any)
}

// NewLoggerAuditor creates a LoggerAuditor. sink, if non-nil, is invoked
// for every logged event in addition to the log line — the repository's
// CreateAuditLog wires in here so events also land in the durable table.
func NewLoggerAuditor(enabled bool, sink func(action, actor, resource string, details map[string]any)) *LoggerAuditor {
	return &LoggerAuditor{enabled: enabled, sink: sink}
}

func (a *LoggerAuditor) Log(ctx context.Context, action, actor, resource string, details map[string]any) {
	if !a.enabled {
		return
	}

	fields := logrus.Fields{
		"audit_action":   action,
		"audit_actor":    actor,
		"audit_resource": resource,
	}
	for k, v := range details {
		fields["detail."+k] = v
	}
	logging.Log.WithFields(fields).Info("AUDIT EVENT")

	if a.sink != nil {
		a.sink(action, actor, resource, details)
	}
}
