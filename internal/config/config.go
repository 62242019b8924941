package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Browser driver names.
const (
	DriverChrome = "chrome"
	DriverForm   = "form"
)

// Config holds the full application configuration.
type Config struct {
	Portal  PortalConfig  `yaml:"portal" mapstructure:"portal"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Pacing  PacingConfig  `yaml:"pacing" mapstructure:"pacing"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PortalConfig describes the external login portal.
type PortalConfig struct {
	LoginURL              string        `yaml:"login_url" mapstructure:"login_url"`
	StepTimeoutSecs       int           `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	NavigationTimeoutSecs int           `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
	ClearCookies          bool          `yaml:"clear_cookies" mapstructure:"clear_cookies"`
	Locators              LocatorConfig `yaml:"locators" mapstructure:"locators"`
}

// LocatorConfig maps each login step to a CSS selector.
type LocatorConfig struct {
	IdentifierInput string `yaml:"identifier_input" mapstructure:"identifier_input"`
	NextButton      string `yaml:"next_button" mapstructure:"next_button"`
	SecretInput     string `yaml:"secret_input" mapstructure:"secret_input"`
	SignInButton    string `yaml:"sign_in_button" mapstructure:"sign_in_button"`
	DisplayName     string `yaml:"display_name" mapstructure:"display_name"`
	LoggedInMarker  string `yaml:"logged_in_marker" mapstructure:"logged_in_marker"` // optional
}

// BrowserConfig selects and tunes the session driver.
type BrowserConfig struct {
	Driver            string   `yaml:"driver" mapstructure:"driver"`
	Headless          bool     `yaml:"headless" mapstructure:"headless"`
	ExecPath          string   `yaml:"exec_path" mapstructure:"exec_path"`
	Flags             []string `yaml:"flags" mapstructure:"flags"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CloudflareBypass  bool     `yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`
}

// PacingConfig controls the randomized delay between rows.
type PacingConfig struct {
	BaseMinMs       int `yaml:"base_min_ms" mapstructure:"base_min_ms"`
	BaseMaxMs       int `yaml:"base_max_ms" mapstructure:"base_max_ms"`
	JitterMinMs     int `yaml:"jitter_min_ms" mapstructure:"jitter_min_ms"`
	JitterMaxMs     int `yaml:"jitter_max_ms" mapstructure:"jitter_max_ms"`
	LoginsPerMinute int `yaml:"logins_per_minute" mapstructure:"logins_per_minute"`
}

// SessionConfig controls browser session acquisition.
type SessionConfig struct {
	AcquireAttempts  int `yaml:"acquire_attempts" mapstructure:"acquire_attempts"`
	AcquireBackoffMs int `yaml:"acquire_backoff_ms" mapstructure:"acquire_backoff_ms"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB   int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	TempDir       string   `yaml:"temp_dir" mapstructure:"temp_dir"`
	KeepAliveSecs int      `yaml:"keepalive_secs" mapstructure:"keepalive_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path falls back to
// the optional ./config.yaml; a named file must exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CREDRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Hosting platforms inject PORT.
	if err := v.BindEnv("server.port", "CREDRESOLVE_SERVER_PORT", "PORT"); err != nil {
		return nil, eris.Wrap(err, "config: bind port env")
	}

	// Defaults
	v.SetDefault("portal.login_url", "https://auth.afip.gob.ar/contribuyente_/login.xhtml")
	v.SetDefault("portal.step_timeout_secs", 15)
	v.SetDefault("portal.navigation_timeout_secs", 30)
	v.SetDefault("portal.clear_cookies", true)
	v.SetDefault("portal.locators.identifier_input", `input[id="F1:username"]`)
	v.SetDefault("portal.locators.next_button", `input[id="F1:btnSiguiente"]`)
	v.SetDefault("portal.locators.secret_input", `input[id="F1:password"]`)
	v.SetDefault("portal.locators.sign_in_button", `input[id="F1:btnIngresar"]`)
	v.SetDefault("portal.locators.display_name", `header strong.text-primary`)
	v.SetDefault("portal.locators.logged_in_marker", "")
	v.SetDefault("browser.driver", DriverChrome)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.requests_per_second", 2.0)
	v.SetDefault("browser.cloudflare_bypass", true)
	v.SetDefault("pacing.base_min_ms", 1500)
	v.SetDefault("pacing.base_max_ms", 2000)
	v.SetDefault("pacing.jitter_min_ms", 2000)
	v.SetDefault("pacing.jitter_max_ms", 3000)
	v.SetDefault("pacing.logins_per_minute", 0)
	v.SetDefault("session.acquire_attempts", 3)
	v.SetDefault("session.acquire_backoff_ms", 1000)
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.temp_dir", os.TempDir())
	v.SetDefault("server.keepalive_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is "serve" or "resolve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
	case "resolve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Portal.LoginURL == "" {
		errs = append(errs, "portal.login_url is required")
	}
	if c.Portal.StepTimeoutSecs <= 0 {
		errs = append(errs, "portal.step_timeout_secs must be > 0")
	}
	required := map[string]string{
		"identifier_input": c.Portal.Locators.IdentifierInput,
		"next_button":      c.Portal.Locators.NextButton,
		"secret_input":     c.Portal.Locators.SecretInput,
		"sign_in_button":   c.Portal.Locators.SignInButton,
		"display_name":     c.Portal.Locators.DisplayName,
	}
	for _, key := range []string{"identifier_input", "next_button", "secret_input", "sign_in_button", "display_name"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Sprintf("portal.locators.%s is required", key))
		}
	}

	switch c.Browser.Driver {
	case DriverChrome, DriverForm:
	default:
		errs = append(errs, fmt.Sprintf("browser.driver %q is not one of %s, %s", c.Browser.Driver, DriverChrome, DriverForm))
	}

	p := c.Pacing
	if p.BaseMinMs < 0 || p.JitterMinMs < 0 {
		errs = append(errs, "pacing durations must be >= 0")
	}
	if p.BaseMaxMs < p.BaseMinMs {
		errs = append(errs, "pacing.base_max_ms must be >= pacing.base_min_ms")
	}
	if p.JitterMaxMs < p.JitterMinMs {
		errs = append(errs, "pacing.jitter_max_ms must be >= pacing.jitter_min_ms")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger. When cfg.File is set, JSON
// logs are also written to a rotated file.
func InitLogger(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), fileWriter, zapCfg.Level)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)
	return nil
}
