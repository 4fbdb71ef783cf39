package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"jellyswarrm/internal/jerrors"
)

// embyAuthHeader is the X-Emby-Authorization value the proxy presents to
// a backend on its own behalf, distinct from whatever header the
// inbound client sent.
const embyAuthHeader = `MediaBrowser Client="jellyswarrm", Device="jellyswarrm", DeviceId="jellyswarrm-proxy", Version="1.0.0"`

// AuthResult is a backend's response to a successful AuthenticateByName.
type AuthResult struct {
	AccessToken     string
	BackendUserID   string
	BackendUserName string
}

type authenticateByNameRequest struct {
	Username string `json:"Username"`
	Pw       string `json:"Pw"`
}

type authenticateByNameResponse struct {
	User struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	} `json:"User"`
	AccessToken string `json:"AccessToken"`
}

// AuthenticateByName attempts a Jellyfin login on this backend with the
// given credentials. A 401/403 from the backend surfaces as
// jerrors.Unauthorized (credentials rejected, not a transport problem);
// any other 4xx surfaces as jerrors.BackendRejected, and transport
// failures, timeouts and 5xx responses as jerrors.BackendUnavailable.
func (c *Client) AuthenticateByName(ctx context.Context, username, password string) (*AuthResult, error) {
	body, err := json.Marshal(authenticateByNameRequest{Username: username, Pw: password})
	if err != nil {
		return nil, jerrors.Config("encoding authenticate request", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.Server.BaseURL+"/Users/AuthenticateByName", bytes.NewReader(body))
	if err != nil {
		return nil, jerrors.Config("building authenticate request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Emby-Authorization", embyAuthHeader)

	resp, err := c.Do(ctx, req)
	if err != nil {
		if je := jerrors.HTTPStatus(err); je == http.StatusUnauthorized || je == http.StatusForbidden {
			return nil, jerrors.Unauthorized(fmt.Sprintf("%s rejected credentials for %s", c.Server.Name, username))
		}
		return nil, err
	}
	defer resp.Body.Close()

	var parsed authenticateByNameResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, jerrors.BackendUnavailable(c.Server.Name, "malformed authenticate response", err)
	}
	return &AuthResult{
		AccessToken:     parsed.AccessToken,
		BackendUserID:   parsed.User.ID,
		BackendUserName: parsed.User.Name,
	}, nil
}

type newUserRequest struct {
	Name string `json:"Name"`
}

// CreateUserAsAdmin creates username on this backend using an admin
// session token, then sets its password. Used for federated creation
// (spec §4.3): "if a server has admin credentials configured, the proxy
// creates the user on that backend using the same password".
func (c *Client) CreateUserAsAdmin(ctx context.Context, adminToken, username, password string) (*AuthResult, error) {
	body, err := json.Marshal(newUserRequest{Name: username})
	if err != nil {
		return nil, jerrors.Config("encoding create-user request", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.Server.BaseURL+"/Users/New", bytes.NewReader(body))
	if err != nil {
		return nil, jerrors.Config("building create-user request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Token", adminToken)

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, jerrors.BackendUnavailable(c.Server.Name, "malformed create-user response", err)
	}

	if err := c.setUserPassword(ctx, adminToken, created.ID, password); err != nil {
		return nil, err
	}
	return &AuthResult{BackendUserID: created.ID, BackendUserName: username}, nil
}

type setPasswordRequest struct {
	NewPw string `json:"NewPw"`
}

func (c *Client) setUserPassword(ctx context.Context, adminToken, backendUserID, password string) error {
	body, err := json.Marshal(setPasswordRequest{NewPw: password})
	if err != nil {
		return jerrors.Config("encoding set-password request", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.Server.BaseURL+"/Users/"+backendUserID+"/Password", bytes.NewReader(body))
	if err != nil {
		return jerrors.Config("building set-password request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Token", adminToken)

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// AdminAuthenticate logs in with the server's configured admin
// credentials, returning the admin access token used by CreateUserAsAdmin.
func (c *Client) AdminAuthenticate(ctx context.Context) (*AuthResult, error) {
	if c.Server.AdminUsername == "" {
		return nil, jerrors.Config(fmt.Sprintf("server %s has no admin credentials configured", c.Server.Name), nil)
	}
	return c.AuthenticateByName(ctx, c.Server.AdminUsername, c.Server.AdminPassword)
}
