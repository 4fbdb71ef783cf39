// filepath: internal/audit/audit.go
package audit

import "context"

// Auditor records security- and reliability-relevant events: admin
// mutations, auto-discovery logins, and fan-out partial failures (spec
// requires these be recorded but never surfaced to the client).
type Auditor interface {
	// Log records an event.
	// ctx: request context, for future trace-id propagation.
	// action: what happened (e.g. "login.auto_discovery", "fanout.partial_failure").
	// actor: who did it (virtual user id, "system", or an admin username).
	// resource: what was affected (e.g. "server:3", "user:<uuid>").
	// details: structured metadata about the event.
	Log(ctx context.Context, action, actor, resource string, details map[string]any)
}
