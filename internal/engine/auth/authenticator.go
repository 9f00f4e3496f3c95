package auth

import (
	"errors"
	"net/http"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

const (
	HeaderAPIKey  = "X-Api-Key"
	HeaderAgentID = "X-Agent-Id"

	maxAgentID = 64
)

// Authenticator resolves a request's credential to an Identity. API keys
// come from "Authorization: Bearer tb_..." or X-Api-Key; browser sessions
// from the tb_session cookie or a bearer JWT.
type Authenticator struct {
	Credentials *CredentialStore
	Sessions    Sessions
	Users       repo.Repo
}

func (a Authenticator) Authenticate(r *http.Request) (Identity, error) {
	ctx := r.Context()
	bearer := bearerToken(r.Header.Get("Authorization"))
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if key == "" && LooksLikeAPIKey(bearer) {
		key = bearer
		bearer = ""
	}
	if key != "" {
		if a.Credentials == nil {
			return Identity{}, ErrUnauthorized
		}
		cred, err := a.Credentials.Lookup(ctx, key)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return Identity{}, ErrUnauthorized
			}
			return Identity{}, err
		}
		actor := cred.Name
		if agent := agentID(r); agent != "" {
			actor = agent
		}
		return Identity{
			UserID:      cred.UserID,
			Actor:       actor,
			Permissions: cred.Permissions,
			Source:      SourceAPIKey,
			KeyID:       cred.ID,
		}, nil
	}

	token := bearer
	if token == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	userID, err := a.Sessions.Parse(token)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	user, err := a.Users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, err
	}
	return Identity{
		UserID:      user.ID,
		Actor:       user.Email,
		Permissions: domain.Permissions{Read: true, Write: true},
		Source:      SourceSession,
	}, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func agentID(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(HeaderAgentID))
	if len(v) > maxAgentID {
		v = v[:maxAgentID]
	}
	return v
}
