package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"taskboard/internal/billing"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/mail"
	"taskboard/internal/metrics"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
	"taskboard/internal/server"
	"taskboard/internal/site"
	"taskboard/internal/storage"
)

// App is one wired taskboard process: database, engine, credentials,
// billing and the collaborators the HTTP layer needs.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Engine      engine.Engine
	Credentials *auth.CredentialStore
	Accounts    auth.Accounts
	Billing     billing.Service
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewLogger builds the process logger at the configured level.
func NewLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// DBConfig picks the database: DATABASE_URL selects postgres, otherwise
// the configured driver in the workspace.
func DBConfig(cfg *config.Config) db.Config {
	if cfg.Env.DatabaseURL != "" {
		return db.Config{Driver: db.DriverPostgres, DSN: cfg.Env.DatabaseURL}
	}
	return db.Config{Driver: cfg.Database.Driver, Workspace: cfg.Database.Workspace}
}

// Open connects to the database, applies pending migrations and wires every
// service. Close releases it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(DBConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info("migrations applied", "count", applied, "driver", conn.Driver)
	}

	a := &App{Config: cfg, DB: conn, Logger: logger}
	if cfg.Server.Metrics {
		a.Metrics = metrics.New()
	}

	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Metrics = a.Metrics
	if cfg.Storage.Dir != "" {
		blobs, err := storage.NewDir(cfg.Storage.Dir, cfg.Storage.MaxUploadBytes)
		if err != nil {
			conn.Close()
			return nil, err
		}
		e.Blobs = blobs
	}
	if cfg.Env.SMTPHost != "" {
		e.Notifier = mail.Notifier{
			Sender: mail.SMTP{
				Host:     cfg.Env.SMTPHost,
				Port:     cfg.Env.SMTPPort,
				Username: cfg.Env.SMTPUsername,
				Password: cfg.Env.SMTPPassword,
				From:     cfg.Env.MailFrom,
			},
			SiteURL: cfg.Env.SiteURL,
		}
	}
	a.Engine = e

	a.Credentials = auth.NewCredentialStore(e.Repo, cfg, logger)
	a.Accounts = auth.Accounts{Repo: e.Repo}
	a.Billing = billing.Service{Repo: e.Repo, SiteURL: cfg.Env.SiteURL, Metrics: a.Metrics, Logger: logger}
	if cfg.Env.StripeSecretKey != "" {
		a.Billing.Provider = billing.NewStripe(cfg.Env.StripeSecretKey, cfg.Env.StripeWebhookSecret, cfg.Env.StripePriceID)
	}
	return a, nil
}

// Handler builds the HTTP API. A session secret is required to serve.
func (a *App) Handler() (http.Handler, error) {
	if a.Config.Env.SessionSecret == "" {
		return nil, errors.New("TASKBOARD_SESSION_SECRET is required to serve")
	}
	basePath := a.Config.Server.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	return server.New(server.Config{
		Engine: a.Engine,
		Auth: auth.Authenticator{
			Credentials: a.Credentials,
			Sessions:    auth.Sessions{Secret: []byte(a.Config.Env.SessionSecret)},
			Users:       a.Engine.Repo,
		},
		Accounts: a.Accounts,
		Billing:  a.Billing,
		Site: site.Site{
			BaseURL:  a.Config.Env.SiteURL,
			Pages:    a.Config.Site.Pages,
			Disallow: []string{path.Join(basePath) + "/"},
		},
		Metrics:        a.Metrics,
		Logger:         a.Logger,
		BasePath:       basePath,
		AllowedOrigins: a.Config.Server.CORS.AllowedOrigins,
		MaxBodyBytes:   a.Config.Server.MaxBodyBytes,
		SecureCookies:  secureSite(a.Config.Env.SiteURL),
	})
}

func secureSite(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.EqualFold(u.Scheme, "https")
}

// Identity resolves a local operator acting as the user with email. It
// carries the same capabilities as a browser session.
func (a *App) Identity(ctx context.Context, email string) (auth.Identity, error) {
	if strings.TrimSpace(email) == "" {
		return auth.Identity{}, errors.New("user e-mail required; use --user")
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return auth.Identity{}, fmt.Errorf("no user with e-mail %s", email)
		}
		return auth.Identity{}, err
	}
	return auth.Identity{
		UserID:      u.ID,
		Actor:       u.Email,
		Permissions: domain.Permissions{Read: true, Write: true},
		Source:      auth.SourceSession,
	}, nil
}

// Close waits for detached work and closes the database.
func (a *App) Close() error {
	a.Engine.Wait()
	if a.Credentials != nil {
		a.Credentials.Wait()
	}
	return a.DB.Close()
}
