// Package config loads leadmailer settings from .env, an optional YAML file
// and LEADMAILER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"leadmailer/internal/adapters/email"
	"leadmailer/internal/domain/dispatch"
)

// Transport names.
const (
	TransportNoop   = "noop"
	TransportResend = "resend"
	TransportSMTP   = "smtp"
)

// Defaults applied before the file and environment are read.
const (
	DefaultAddr      = ":8080"
	DefaultDBPath    = "leadmailer.db"
	DefaultSendDelay = time.Second
	DefaultFrom      = "Leadmailer <noreply@localhost>"
	DefaultLogLevel  = "info"
	DefaultSMTPPort  = 587
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// SMTP holds relay settings for the smtp transport.
type SMTP struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
}

// DKIM holds optional signing settings for the smtp transport.
type DKIM struct {
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyPath  string `yaml:"key_path"`
}

// Config is the resolved process configuration.
type Config struct {
	Addr      string        `yaml:"addr"`
	DBPath    string        `yaml:"db"`
	Env       string        `yaml:"env"`
	LogLevel  string        `yaml:"log_level"`
	CSRFKey   string        `yaml:"csrf_key"`
	MaxBatch  int           `yaml:"max_batch"`
	SendDelay time.Duration `yaml:"send_delay"`
	Transport string        `yaml:"transport"`
	ResendKey string        `yaml:"resend_key"`
	From      string        `yaml:"from"`
	ReplyTo   string        `yaml:"reply_to"`
	SMTP      SMTP          `yaml:"smtp"`
	DKIM      DKIM          `yaml:"dkim"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:      DefaultAddr,
		DBPath:    DefaultDBPath,
		Env:       "development",
		LogLevel:  DefaultLogLevel,
		MaxBatch:  dispatch.DefaultMaxBatch,
		SendDelay: DefaultSendDelay,
		Transport: TransportNoop,
		From:      DefaultFrom,
		SMTP:      SMTP{Port: DefaultSMTPPort},
	}
}

// Load resolves configuration from .env, the YAML file named by
// LEADMAILER_CONFIG and the environment.
// POST: Returns a validated Config or an error wrapping ErrInvalid
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("LEADMAILER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, "LEADMAILER_ADDR")
	setString(&c.DBPath, "LEADMAILER_DB")
	setString(&c.Env, "LEADMAILER_ENV")
	setString(&c.LogLevel, "LEADMAILER_LOG_LEVEL")
	setString(&c.CSRFKey, "LEADMAILER_CSRF_KEY")
	setString(&c.Transport, "LEADMAILER_TRANSPORT")
	setString(&c.ResendKey, "LEADMAILER_RESEND_KEY")
	setString(&c.From, "LEADMAILER_FROM")
	setString(&c.ReplyTo, "LEADMAILER_REPLY_TO")
	setString(&c.SMTP.Host, "LEADMAILER_SMTP_HOST")
	setString(&c.SMTP.Username, "LEADMAILER_SMTP_USERNAME")
	setString(&c.SMTP.Password, "LEADMAILER_SMTP_PASSWORD")
	setString(&c.DKIM.Domain, "LEADMAILER_DKIM_DOMAIN")
	setString(&c.DKIM.Selector, "LEADMAILER_DKIM_SELECTOR")
	setString(&c.DKIM.KeyPath, "LEADMAILER_DKIM_KEY_PATH")

	if err := setInt(&c.MaxBatch, "LEADMAILER_MAX_BATCH"); err != nil {
		return err
	}
	if err := setInt(&c.SMTP.Port, "LEADMAILER_SMTP_PORT"); err != nil {
		return err
	}
	if err := setBool(&c.SMTP.SkipTLSVerify, "LEADMAILER_SMTP_SKIP_TLS_VERIFY"); err != nil {
		return err
	}
	if v, ok := lookup("LEADMAILER_SEND_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LEADMAILER_SEND_DELAY: %v", ErrInvalid, err)
		}
		c.SendDelay = d
	}
	return nil
}

// Validate rejects settings the dispatcher cannot run with.
func (c Config) Validate() error {
	if c.MaxBatch <= 0 {
		return fmt.Errorf("%w: max batch must be positive, got %d", ErrInvalid, c.MaxBatch)
	}
	if c.SendDelay < 0 {
		return fmt.Errorf("%w: send delay must not be negative, got %s", ErrInvalid, c.SendDelay)
	}
	switch c.Transport {
	case TransportNoop:
	case TransportResend:
		if c.ResendKey == "" {
			return fmt.Errorf("%w: resend transport needs LEADMAILER_RESEND_KEY", ErrInvalid)
		}
	case TransportSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("%w: smtp transport needs LEADMAILER_SMTP_HOST", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	return nil
}

// IsProduction reports whether the process runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPConfig maps relay settings onto the transport's config.
func (c Config) SMTPConfig() email.SMTPConfig {
	return email.SMTPConfig{
		Host:          c.SMTP.Host,
		Port:          c.SMTP.Port,
		Username:      c.SMTP.Username,
		Password:      c.SMTP.Password,
		From:          c.From,
		SkipTLSVerify: c.SMTP.SkipTLSVerify,
	}
}

// DKIMConfig maps signing settings onto the transport's config.
func (c Config) DKIMConfig() email.DKIMConfig {
	return email.DKIMConfig{Domain: c.DKIM.Domain, Selector: c.DKIM.Selector, KeyPath: c.DKIM.KeyPath}
}

// NewSender builds the configured transport.
// PRE: c has passed Validate
func (c Config) NewSender() (email.Sender, error) {
	switch c.Transport {
	case TransportResend:
		return email.NewResendSender(c.ResendKey, c.From), nil
	case TransportSMTP:
		signer, err := email.LoadDKIMSigner(c.DKIMConfig())
		if err != nil {
			return nil, err
		}
		return email.NewSMTPSender(c.SMTPConfig(), signer), nil
	default:
		return email.NewNoopSender(), nil
	}
}

// SetupLogger installs a JSON slog handler writing to w at the configured level.
func SetupLogger(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = b
	return nil
}
