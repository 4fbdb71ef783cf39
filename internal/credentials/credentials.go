// Package credentials implements the Credential Store & Federation
// component (spec §4.3): virtual-user onboarding, either by explicit
// admin action or by automatic discovery on first login, plus the
// at-rest encryption of every backend's mapped password.
package credentials

import (
	"context"
	"fmt"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store owns virtual-user onboarding and the encrypted ServerMapping rows
// that bind a virtual user to their credentials on each backend.
type Store struct {
	repo    repository.Repository
	reg     *registry.Registry
	pool    *backendclient.Pool
	box     *cryptoutil.Box
	auditor audit.Auditor
}

func New(repo repository.Repository, reg *registry.Registry, pool *backendclient.Pool, box *cryptoutil.Box, auditor audit.Auditor) *Store {
	return &Store{repo: repo, reg: reg, pool: pool, box: box, auditor: auditor}
}

// HashPassword is the deterministic digest stored as User.PasswordHash.
// It must be deterministic (not salted) so that the same (username,
// password) pair from two different clients collapses to the same row,
// per spec §3's UNIQUE(original_username, password_hash) invariant —
// see SPEC_FULL.md §9 for why bcrypt cannot serve this role.
func HashPassword(password string) string {
	return cryptoutil.HashToken(password)
}

// discoveryResult is one backend's outcome from a credential-discovery
// fan-out attempt.
type discoveryResult struct {
	server models.Server
	auth   *backendclient.AuthResult
}

// Authenticate resolves (username, password) to a virtual User, running
// automatic discovery across every backend if no matching user exists
// yet (spec §4.3). Returns the user and every ServerMapping now known
// for them (existing ones if the user already existed, newly-discovered
// ones otherwise).
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.User, []models.ServerMapping, error) {
	hash := HashPassword(password)

	if user, err := s.repo.GetUserByUsernameAndHash(username, hash); err == nil {
		mappings, err := s.repo.ListServerMappingsForUser(user.ID)
		if err != nil {
			return nil, nil, jerrors.Persistence("listing server mappings", err)
		}
		return user, mappings, nil
	} else if err != repository.ErrNotFound {
		return nil, nil, jerrors.Persistence("looking up user", err)
	}

	return s.discover(ctx, username, password, hash)
}

// discover fans out the credential pair to every configured backend
// concurrently (grounded on the original implementation's
// tokio::spawn-per-backend fan-out in handlers/users.rs) and records a
// ServerMapping for every backend that accepts it.
func (s *Store) discover(ctx context.Context, username, password, hash string) (*models.User, []models.ServerMapping, error) {
	servers := s.reg.Online()
	if len(servers) == 0 {
		return nil, nil, jerrors.BackendUnavailable("", "no backends configured", nil)
	}

	results := make([]discoveryResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			client := s.pool.For(srv)
			auth, err := client.AuthenticateByName(gctx, username, password)
			if err != nil {
				return nil // one backend's rejection is not fatal to discovery
			}
			results[i] = discoveryResult{server: srv, auth: auth}
			return nil
		})
	}
	_ = g.Wait() // errors already absorbed per-goroutine; only used to join

	var accepted []discoveryResult
	for _, r := range results {
		if r.auth != nil {
			accepted = append(accepted, r)
		}
	}
	if len(accepted) == 0 {
		return nil, nil, jerrors.Unauthorized(fmt.Sprintf("no backend accepted credentials for %q", username))
	}

	user, err := s.repo.CreateUser(&models.User{
		ID:               uuid.NewString(),
		VirtualAuthKey:   uuid.NewString(),
		OriginalUsername: username,
		PasswordHash:     hash,
	})
	if err != nil {
		return nil, nil, jerrors.Persistence("creating virtual user", err)
	}

	mappings := make([]models.ServerMapping, 0, len(accepted))
	for _, a := range accepted {
		mapping, err := s.createMapping(user.ID, a.server.BaseURL, username, password)
		if err != nil {
			return nil, nil, err
		}
		mappings = append(mappings, *mapping)
		s.auditor.Log(ctx, "credential_discovery", user.ID, a.server.Name, map[string]any{"username": username})
	}
	return user, mappings, nil
}

func (s *Store) createMapping(userID, serverURL, mappedUsername, mappedPassword string) (*models.ServerMapping, error) {
	ct, err := s.box.Seal(mappedPassword)
	if err != nil {
		return nil, jerrors.Config("encrypting mapped password", err)
	}
	mapping, err := s.repo.CreateServerMapping(&models.ServerMapping{
		UserID:           userID,
		ServerURL:        serverURL,
		MappedUsername:   mappedUsername,
		MappedPasswordCT: ct,
	})
	if err != nil {
		return nil, jerrors.Persistence("storing server mapping", err)
	}
	return mapping, nil
}

// DecryptMapping recovers the plaintext backend password for a mapping,
// needed by the Session Manager to re-authenticate on token expiry.
func (s *Store) DecryptMapping(m *models.ServerMapping) (string, error) {
	plaintext, err := s.box.Open(m.MappedPasswordCT)
	if err != nil {
		return "", jerrors.Config("decrypting mapped password", err)
	}
	return plaintext, nil
}

// ManualMapping is one backend-credential pair supplied by the admin
// when hand-creating a user (spec §4.3 "manual creation").
type ManualMapping struct {
	ServerURL string
	Username  string
	Password  string
	// Federate requests the proxy create this user on the backend using
	// the backend's configured admin credentials, instead of assuming
	// the (Username, Password) pair already exists there.
	Federate bool
}

// ManualCreate creates a virtual user with an admin-supplied credential
// set (spec §4.3 "manual creation", optionally "federated creation").
func (s *Store) ManualCreate(ctx context.Context, username, password string, mappings []ManualMapping) (*models.User, []models.ServerMapping, error) {
	user, err := s.repo.CreateUser(&models.User{
		ID:               uuid.NewString(),
		VirtualAuthKey:   uuid.NewString(),
		OriginalUsername: username,
		PasswordHash:     HashPassword(password),
	})
	if err != nil {
		return nil, nil, jerrors.Persistence("creating virtual user", err)
	}

	out := make([]models.ServerMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Federate {
			if err := s.federateCreate(ctx, m.ServerURL, m.Username, m.Password); err != nil {
				return nil, nil, err
			}
		}
		mapping, err := s.createMapping(user.ID, m.ServerURL, m.Username, m.Password)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, *mapping)
		s.auditor.Log(ctx, "manual_user_create", user.ID, m.ServerURL, map[string]any{"username": username, "federated": m.Federate})
	}
	return user, out, nil
}

// federateCreate logs into srv as its configured admin and creates
// username there, so the subsequent ServerMapping has something to
// authenticate against.
func (s *Store) federateCreate(ctx context.Context, serverURL, username, password string) error {
	srv, ok := s.reg.ByURL(serverURL)
	if !ok {
		return jerrors.Config(fmt.Sprintf("unknown server %q for federated creation", serverURL), nil)
	}
	client := s.pool.For(srv)
	admin, err := client.AdminAuthenticate(ctx)
	if err != nil {
		return err
	}
	if _, err := client.CreateUserAsAdmin(ctx, admin.AccessToken, username, password); err != nil {
		return err
	}
	return nil
}
