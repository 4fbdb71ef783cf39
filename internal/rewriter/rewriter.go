package rewriter

import (
	"strings"

	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/repository"
)

// Rewriter applies the Fields table recursively over a decoded JSON
// value (map[string]any / []any / scalars — the shape json.Unmarshal
// produces into an `any`), translating ids in place.
type Rewriter struct {
	mapper   *idmap.Mapper
	serverID string
}

func New(mapper *idmap.Mapper, serverID string) *Rewriter {
	return &Rewriter{mapper: mapper, serverID: serverID}
}

// Outbound scrubs a backend response body before it reaches the client:
// every recognized id field is translated to its virtual form, minting
// new ID Mapper rows as needed. virtualUserID is the requesting client's
// own id, substituted for every UserId field encountered.
func (rw *Rewriter) Outbound(body any, serverURL, virtualUserID string) error {
	return rw.walk(body, serverURL, virtualUserID, true)
}

// Inbound translates a client-supplied body (or path/query fragment,
// pre-decoded into the same any shape) back to backend-original ids
// before the request is dispatched to serverURL.
func (rw *Rewriter) Inbound(body any, serverURL string) error {
	return rw.walk(body, serverURL, "", false)
}

func (rw *Rewriter) walk(v any, serverURL, virtualUserID string, outbound bool) error {
	switch node := v.(type) {
	case map[string]any:
		return rw.walkObject(node, serverURL, virtualUserID, outbound)
	case []any:
		for _, item := range node {
			if err := rw.walk(item, serverURL, virtualUserID, outbound); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rw *Rewriter) walkObject(obj map[string]any, serverURL, virtualUserID string, outbound bool) error {
	for key, val := range obj {
		if kind, known := lookupField(key); known {
			rewritten, err := rw.rewriteField(kind, val, serverURL, virtualUserID, outbound)
			if err != nil {
				return err
			}
			obj[key] = rewritten
			continue
		}
		if isURLField(key) {
			if s, ok := val.(string); ok {
				obj[key] = rw.rewriteURL(s, serverURL, outbound)
				continue
			}
		}
		if err := rw.walk(val, serverURL, virtualUserID, outbound); err != nil {
			return err
		}
	}
	return nil
}

func (rw *Rewriter) rewriteField(kind FieldKind, val any, serverURL, virtualUserID string, outbound bool) (any, error) {
	s, ok := val.(string)
	if !ok || s == "" {
		return val, nil
	}
	switch kind {
	case KindServerID:
		if outbound {
			return rw.serverID, nil
		}
		return s, nil // clients never need to send a meaningful ServerId
	case KindUserID:
		if outbound {
			return virtualUserID, nil
		}
		return s, nil // the backend user id comes from the session, not the body
	case KindItemID:
		if outbound {
			virtual, err := rw.mapper.ToVirtual(serverURL, s)
			if err != nil {
				return nil, jerrors.Persistence("minting virtual id", err)
			}
			return virtual, nil
		}
		_, original, err := rw.mapper.FromVirtual(s)
		if err == repository.ErrNotFound {
			return nil, jerrors.MappingMissing("unknown virtual id " + s)
		}
		if err != nil {
			return nil, jerrors.Persistence("resolving virtual id", err)
		}
		return original, nil
	}
	return val, nil
}

// rewriteURL rewrites a backend-absolute URL to a proxy-relative one
// (outbound) by stripping the backend's base URL, or prefixes a
// proxy-relative path with the backend's base URL (inbound). The path
// itself is kept verbatim: an `/Items/{id}` segment keeps the backend's
// original id and is not translated through the ID Mapper.
func (rw *Rewriter) rewriteURL(raw, serverURL string, outbound bool) string {
	if outbound {
		return strings.TrimPrefix(raw, strings.TrimRight(serverURL, "/"))
	}
	if strings.HasPrefix(raw, "/") {
		return strings.TrimRight(serverURL, "/") + raw
	}
	return raw
}
