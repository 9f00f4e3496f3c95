package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

// Config models taskboard.yml.
type Config struct {
	Server struct {
		Addr         string `yaml:"addr"`
		BasePath     string `yaml:"base_path"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
		Metrics      bool   `yaml:"metrics"`
		CORS         struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
	} `yaml:"server"`
	Database struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Storage struct {
		Dir            string `yaml:"dir"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"storage"`
	Limits struct {
		MaxDocumentBytes int `yaml:"max_document_bytes"`
	} `yaml:"limits"`
	Plans map[domain.Plan]PlanLimits `yaml:"plans"`
	Site  struct {
		Pages []string `yaml:"pages"`
	} `yaml:"site"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Env carries secrets read from the process environment. It is never
	// part of the YAML file.
	Env Env `yaml:"-"`
}

type PlanLimits struct {
	MaxAPIKeys int `yaml:"max_api_keys"`
}

// Env holds deployment secrets and endpoints.
type Env struct {
	DatabaseURL         string `env:"DATABASE_URL"`
	SessionSecret       string `env:"TASKBOARD_SESSION_SECRET"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`
	SMTPHost            string `env:"SMTP_HOST"`
	SMTPPort            int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername        string `env:"SMTP_USERNAME"`
	SMTPPassword        string `env:"SMTP_PASSWORD"`
	MailFrom            string `env:"MAIL_FROM" envDefault:"Taskboard <noreply@localhost>"`
	SiteURL             string `env:"SITE_URL" envDefault:"http://localhost:8080"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Load reads and validates config from workspace, falling back to defaults
// when the file is absent, then overlays the environment.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if cfg.Database.Workspace == "" {
		cfg.Database.Workspace = workspace
	}
	e, err := ParseEnv()
	if err != nil {
		return nil, err
	}
	cfg.Env = e
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres")
	}
	if c.Storage.MaxUploadBytes < 0 {
		return fmt.Errorf("config.storage.max_upload_bytes must not be negative")
	}
	if c.Limits.MaxDocumentBytes < 0 {
		return fmt.Errorf("config.limits.max_document_bytes must not be negative")
	}
	if c.Plans == nil {
		return fmt.Errorf("config.plans is required")
	}
	if _, ok := c.Plans[domain.PlanFree]; !ok {
		return fmt.Errorf("config.plans must include free")
	}
	for plan, limits := range c.Plans {
		if plan != domain.PlanFree && plan != domain.PlanPro {
			return fmt.Errorf("config.plans has unknown plan %s", plan)
		}
		if limits.MaxAPIKeys < 0 {
			return fmt.Errorf("plan %s max_api_keys must not be negative", plan)
		}
	}
	for _, page := range c.Site.Pages {
		if !strings.HasPrefix(page, "/") {
			return fmt.Errorf("site page %q must start with /", page)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Limit returns the limits for plan, falling back to the free plan.
func (c *Config) Limit(plan domain.Plan) PlanLimits {
	if l, ok := c.Plans[plan]; ok {
		return l
	}
	return c.Plans[domain.PlanFree]
}

// ParseLevel maps log.level to a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", level)
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  max_body_bytes: 1048576
  metrics: true
  cors:
    allowed_origins: ["*"]

database:
  driver: sqlite

storage:
  dir: .taskboard/attachments
  max_upload_bytes: 10485760

limits:
  max_document_bytes: 65536

plans:
  free:
    max_api_keys: 2
  pro:
    max_api_keys: 50

site:
  pages:
    - /
    - /pricing
    - /docs
    - /docs/api
    - /docs/agents

log:
  level: info
`
