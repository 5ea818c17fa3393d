// Package config loads layered configuration: defaults, an optional YAML
// file, then AUTOCLIP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/fetcher"
	"autoclip/internal/login"
	"autoclip/internal/rank"
	"autoclip/internal/report"
	"autoclip/internal/server"
	"autoclip/internal/session"
	"autoclip/internal/tags"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AUTOCLIP_BROWSER_PROXY.
const EnvPrefix = "AUTOCLIP"

type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    browser.Config   `mapstructure:"browser" yaml:"browser"`
	Session    session.Config   `mapstructure:"session" yaml:"session"`
	Navigation NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	Login      login.Config     `mapstructure:"login" yaml:"login"`
	Report     report.Config    `mapstructure:"report" yaml:"report"`
	Rank       rank.Config      `mapstructure:"rank" yaml:"rank"`
	Tags       tags.Config      `mapstructure:"tags" yaml:"tags"`
	Fetch      fetcher.Config   `mapstructure:"fetch" yaml:"fetch"`
	Server     server.Config    `mapstructure:"server" yaml:"server"`
}

// LoggerConfig configures the console logger and the optional rotated JSON file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

type NavigationConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults registers every known key so env overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "autoclip")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.bin", "")

	v.SetDefault("session.heartbeat_interval", "25s")
	v.SetDefault("session.safety_timeout", "30m")
	v.SetDefault("session.mobile.width", 406)
	v.SetDefault("session.mobile.height", 900)
	v.SetDefault("session.mobile.scale", 3)
	v.SetDefault("session.mobile.mobile", true)
	v.SetDefault("session.desktop.width", 1280)
	v.SetDefault("session.desktop.height", 900)
	v.SetDefault("session.desktop.scale", 1)
	v.SetDefault("session.desktop.mobile", false)

	v.SetDefault("navigation.timeout", "30s")

	v.SetDefault("login.form_timeout", "30s")
	v.SetDefault("login.poll_interval", "1500ms")
	v.SetDefault("login.timeout", "120s")

	v.SetDefault("report.ready_timeout", "30s")
	v.SetDefault("report.submit_timeout", "10s")
	v.SetDefault("report.submit_interval", "500ms")
	v.SetDefault("report.list_timeout", "90s")
	v.SetDefault("report.list_interval", "3s")
	v.SetDefault("report.settle_delay", "500ms")
	v.SetDefault("report.calendar_steps", 3)
	v.SetDefault("report.timezone", "Asia/Seoul")

	v.SetDefault("rank.poll_attempts", 20)
	v.SetDefault("rank.poll_interval", "500ms")
	v.SetDefault("rank.min_entries", 20)
	v.SetDefault("rank.page_delay", "1s")
	v.SetDefault("rank.nav_timeout", "15s")

	v.SetDefault("tags.page_size", 40)
	v.SetDefault("tags.pages", 2)
	v.SetDefault("tags.page_delay", "300ms")

	v.SetDefault("fetch.timeout", "60s")
	v.SetDefault("fetch.rate", 2)
	v.SetDefault("fetch.default_file_name", "report.xlsx")
	v.SetDefault("fetch.proxy", "")

	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig returns the configuration with nothing but defaults applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.derive()
	return &cfg
}

// Load reads file (or ./autoclip.yaml when file is empty and it exists),
// applies environment overrides and validates the result. v may carry flag
// bindings made by the caller.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("autoclip")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.derive()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// derive fills the settings that follow from other sections.
func (c *Config) derive() {
	c.Login.Headless = c.Browser.Headless
}

// Validate checks the budgets every workflow relies on to terminate.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"session.heartbeat_interval": c.Session.HeartbeatInterval,
		"session.safety_timeout":     c.Session.SafetyTimeout,
		"navigation.timeout":         c.Navigation.Timeout,
		"login.poll_interval":        c.Login.PollInterval,
		"login.timeout":              c.Login.Timeout,
		"report.submit_timeout":      c.Report.SubmitTimeout,
		"report.list_interval":       c.Report.ListInterval,
		"report.list_timeout":        c.Report.ListTimeout,
		"rank.poll_interval":         c.Rank.PollInterval,
		"fetch.timeout":              c.Fetch.Timeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	if c.Rank.PollAttempts <= 0 {
		return fmt.Errorf("rank.poll_attempts must be a positive integer")
	}
	if c.Report.CalendarSteps < 0 {
		return fmt.Errorf("report.calendar_steps must not be negative")
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if c.Session.Mobile.Width <= 0 || c.Session.Desktop.Width <= 0 {
		return fmt.Errorf("session viewports need a positive width")
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
