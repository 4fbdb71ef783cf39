package backendclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"jellyswarrm/internal/jerrors"
)

// embyTokenHeader carries the backend's per-session access token on every
// authenticated call after login, as distinct from the X-Emby-Authorization
// header used only on AuthenticateByName.
const embyTokenHeader = "X-Emby-Token"

// GetJSON issues an authenticated GET against path with the given query
// string and decodes the JSON body into out. Used by the federated engine
// for every routed and fanned-out listing call.
func (c *Client) GetJSON(ctx context.Context, path, accessToken string, query url.Values, out any) error {
	full := path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, c.Server.BaseURL+full, nil)
	if err != nil {
		return jerrors.Config("building backend request", err)
	}
	if accessToken != "" {
		req.Header.Set(embyTokenHeader, accessToken)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return jerrors.BackendUnavailable(c.Server.Name, "malformed JSON response", err)
	}
	return nil
}
