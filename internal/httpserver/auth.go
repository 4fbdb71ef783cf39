package httpserver

import (
	"net/http"
	"regexp"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/session"
)

// embyAuthField matches one `Key="Value"` pair inside an
// X-Emby-Authorization (or standard MediaBrowser Authorization) header.
// Grounded on the original proxy's extract_auth_header, which accepts
// both header names (handlers/users.rs).
var embyAuthField = regexp.MustCompile(`([A-Za-z]+)="([^"]*)"`)

// parsedAuth is everything the proxy cares about from one inbound
// MediaBrowser authorization header.
type parsedAuth struct {
	Token string
	session.DeviceInfo
}

// parseEmbyAuthorization extracts Client/Device/DeviceId/Version/Token
// from Jellyfin's `MediaBrowser Client="...", Device="...", ...` header
// format. Accepts both the `Authorization` and `X-Emby-Authorization`
// header names.
func parseEmbyAuthorization(r *http.Request) (*parsedAuth, error) {
	raw := r.Header.Get("X-Emby-Authorization")
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	if raw == "" {
		return nil, jerrors.Unauthorized("missing X-Emby-Authorization header")
	}

	fields := map[string]string{}
	for _, m := range embyAuthField.FindAllStringSubmatch(raw, -1) {
		fields[m[1]] = m[2]
	}

	return &parsedAuth{
		Token: fields["Token"],
		DeviceInfo: session.DeviceInfo{
			ClientName: fields["Client"],
			DeviceName: fields["Device"],
			DeviceID:   fields["DeviceId"],
			AppVersion: fields["Version"],
		},
	}, nil
}
