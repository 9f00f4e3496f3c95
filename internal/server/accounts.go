package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/billing"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
)

func sessionCookie(value string, expires time.Time, secure bool) http.Cookie {
	c := http.Cookie{
		Name:     auth.SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.Expires = expires
	}
	return c
}

func registerAccounts(api huma.API, cfg Config) {
	issue := func(ctx context.Context, u domain.User) (*sessionOutput, error) {
		token, expires, err := cfg.Auth.Sessions.Issue(u.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{
			SetCookie: sessionCookie(token, expires, cfg.SecureCookies),
			Body: SessionResponse{
				User:      u,
				Token:     token,
				ExpiresAt: domain.FormatTime(expires),
			},
		}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create an account and start a session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest
	}) (*sessionOutput, error) {
		u, err := cfg.Accounts.Signup(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return issue(ctx, u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Start a browser session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest
	}) (*sessionOutput, error) {
		u, err := cfg.Accounts.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return issue(ctx, u)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Clear the session cookie",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		SetCookie http.Cookie `header:"Set-Cookie"`
	}, error) {
		return &struct {
			SetCookie http.Cookie `header:"Set-Cookie"`
		}{SetCookie: sessionCookie("", time.Time{}, cfg.SecureCookies)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := cfg.Engine.Repo.GetUser(ctx, id.UserID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MeResponse
		}{Body: MeResponse{
			User:        u,
			Actor:       id.Actor,
			Source:      string(id.Source),
			KeyID:       id.KeyID,
			Permissions: id.Permissions,
		}}, nil
	})
}

func registerKeys(api huma.API, store *auth.CredentialStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey
	}, error) {
		id, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := store.List(ctx, id.UserID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		return &struct {
			Body []domain.APIKey
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create an API key",
		Description:   "The plaintext key is returned once and cannot be retrieved later.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateKeyRequest
	}) (*struct {
		Body CreatedKeyResponse
	}, error) {
		id, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plaintext, err := store.Create(ctx, id.UserID, input.Body.Name, input.Body.Permissions)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CreatedKeyResponse
		}{Body: CreatedKeyResponse{APIKey: key, Key: plaintext}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-key",
		Method:        http.MethodDelete,
		Path:          "/keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		id, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := store.Revoke(ctx, id.UserID, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerBilling(api huma.API, svc billing.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "billing-checkout",
		Method:      http.MethodPost,
		Path:        "/billing/checkout",
		Summary:     "Start a checkout for the pro plan",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*urlOutput, error) {
		id, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := svc.Checkout(ctx, id.UserID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &urlOutput{Body: URLResponse{URL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "billing-portal",
		Method:      http.MethodPost,
		Path:        "/billing/portal",
		Summary:     "Open the billing portal",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*urlOutput, error) {
		id, authErr := requireSession(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := svc.Portal(ctx, id.UserID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &urlOutput{Body: URLResponse{URL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "billing-webhook",
		Method:      http.MethodPost,
		Path:        "/billing/webhook",
		Summary:     "Payment provider webhook",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"Stripe-Signature"`
		RawBody   []byte
	}) (*struct {
		Body WebhookResponse
	}, error) {
		if err := svc.HandleWebhook(ctx, input.RawBody, input.Signature); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WebhookResponse
		}{Body: WebhookResponse{Received: true}}, nil
	})
}
