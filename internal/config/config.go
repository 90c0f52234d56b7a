package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/calendar"
	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"github.com/spf13/viper"
)

const EnvPrefix = "KENPO"

type Config struct {
	Target    TargetConfig    `mapstructure:"target"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Cookies   CookiesConfig   `mapstructure:"cookies"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type TargetConfig struct {
	URL string `mapstructure:"url"`
	// ReferenceURL is linked from notifications; defaults to URL.
	ReferenceURL string `mapstructure:"reference_url"`
}

type FilterConfig struct {
	Facility string `mapstructure:"facility"`
	Dates    string `mapstructure:"dates"`
	Weekday  string `mapstructure:"weekday"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	Install           bool          `mapstructure:"install"`
	UserAgent         string        `mapstructure:"user_agent"`
	Locale            string        `mapstructure:"locale"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// CommitTimeout bounds the month-advance response wait. Zero waits
	// indefinitely.
	CommitTimeout  time.Duration `mapstructure:"commit_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	CheckboxSettle time.Duration `mapstructure:"checkbox_settle"`
	InputDelayMin  time.Duration `mapstructure:"input_delay_min"`
	InputDelayMax  time.Duration `mapstructure:"input_delay_max"`
	ArtifactDir    string        `mapstructure:"artifact_dir"`
}

type SelectorsConfig struct {
	Calendar calendar.Selectors `mapstructure:"calendar"`
	Captcha  captcha.Selectors  `mapstructure:"captcha"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type CookiesConfig struct {
	// Store is a DSN: postgres://, sqlite://, file:// or a bare path.
	Store string `mapstructure:"store"`
	// Seed is a JSON cookie list used until the store holds a snapshot.
	Seed string `mapstructure:"seed"`
	// HashKey and BlockKey are base64 (or paths to files holding base64).
	// When set, stored snapshots are sealed.
	HashKey  string `mapstructure:"hash_key"`
	BlockKey string `mapstructure:"block_key"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// RunTokenHash is a bcrypt hash; when set, /run requires the bearer token.
	RunTokenHash string `mapstructure:"run_token_hash"`
}

type SchedulerConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval time.Duration `mapstructure:"interval"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
	AddSource   bool   `mapstructure:"add_source"`
}

// SetDefaults registers every key so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("target.url", "")
	v.SetDefault("target.reference_url", "")

	v.SetDefault("filter.facility", "")
	v.SetDefault("filter.dates", "")
	v.SetDefault("filter.weekday", "土曜日")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "ja-JP")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.commit_timeout", "60s")
	v.SetDefault("browser.probe_timeout", "3s")
	v.SetDefault("browser.checkbox_settle", "2s")
	v.SetDefault("browser.input_delay_min", "150ms")
	v.SetDefault("browser.input_delay_max", "600ms")
	v.SetDefault("browser.artifact_dir", "")

	cal := calendar.DefaultSelectors()
	v.SetDefault("selectors.calendar.grid", cal.Grid)
	v.SetDefault("selectors.calendar.available", cal.Available)
	v.SetDefault("selectors.calendar.cell", cal.Cell)
	v.SetDefault("selectors.calendar.next", cal.Next)
	v.SetDefault("selectors.calendar.previous", cal.Previous)
	v.SetDefault("selectors.calendar.data_response", cal.DataResponse)
	v.SetDefault("selectors.calendar.detail_ready", cal.DetailReady)

	cs := captcha.DefaultSelectors()
	v.SetDefault("selectors.captcha.anchor", cs.Anchor)
	v.SetDefault("selectors.captcha.challenge", cs.Challenge)
	v.SetDefault("selectors.captcha.challenge_marker", cs.ChallengeMarker)
	v.SetDefault("selectors.captcha.checkbox", cs.Checkbox)
	v.SetDefault("selectors.captcha.anchor_frame_url", cs.AnchorFrameURL)
	v.SetDefault("selectors.captcha.challenge_frame_url", cs.ChallengeFrameURL)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("cookies.store", "file://./data/cookies.yaml")
	v.SetDefault("cookies.seed", "")
	v.SetDefault("cookies.hash_key", "")
	v.SetDefault("cookies.block_key", "")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.run_token_hash", "")

	v.SetDefault("scheduler.interval", "0s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "kenpo-watcher")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.add_source", false)
}

// legacyEnv maps keys onto the flat variable names older deployments set.
var legacyEnv = map[string]string{
	"target.url":            "TARGET_URL",
	"filter.facility":       "TARGET_FACILITY_NAME",
	"filter.dates":          "DATE_FILTER",
	"filter.weekday":        "DAY_FILTER",
	"notify.webhook_url":    "WEBHOOK_URL",
	"cookies.store":         "DATABASE_URL",
	"cookies.hash_key":      "COOKIE_HASH_KEY",
	"cookies.block_key":     "COOKIE_BLOCK_KEY",
	"server.listen_addr":    "LISTEN_ADDR",
	"server.run_token_hash": "RUN_TOKEN_HASH",
}

// Load reads configuration from an optional file and the environment into v.
// A missing file is only an error when path was given explicitly.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads configuration from ./config.yaml (if present) and the
// environment.
func FromEnv() (Config, error) {
	return Load(viper.New(), "")
}

// Validate rejects configurations a run cannot start with.
func (c Config) Validate() error {
	var errs []error

	if c.Target.URL == "" {
		errs = append(errs, errors.New("target.url (TARGET_URL) is required"))
	} else if err := absoluteURL(c.Target.URL); err != nil {
		errs = append(errs, fmt.Errorf("target.url: %w", err))
	}
	if c.Target.ReferenceURL != "" {
		if err := absoluteURL(c.Target.ReferenceURL); err != nil {
			errs = append(errs, fmt.Errorf("target.reference_url: %w", err))
		}
	}
	if _, err := c.FilterConfig(); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}

	b := c.Browser
	for name, d := range map[string]time.Duration{
		"navigation_timeout": b.NavigationTimeout,
		"commit_timeout":     b.CommitTimeout,
		"probe_timeout":      b.ProbeTimeout,
		"checkbox_settle":    b.CheckboxSettle,
		"input_delay_min":    b.InputDelayMin,
		"input_delay_max":    b.InputDelayMax,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("browser.%s must not be negative", name))
		}
	}
	if b.InputDelayMax < b.InputDelayMin {
		errs = append(errs, errors.New("browser.input_delay_max must be >= input_delay_min"))
	}
	if c.Scheduler.Interval < 0 {
		errs = append(errs, errors.New("scheduler.interval must not be negative"))
	}
	if c.Selectors.Calendar.Grid == "" || c.Selectors.Calendar.Available == "" {
		errs = append(errs, errors.New("selectors.calendar.grid and selectors.calendar.available are required"))
	}
	if d := c.Selectors.Calendar.DetailReady; d == "" || d == c.Selectors.Calendar.Grid {
		errs = append(errs, errors.New("selectors.calendar.detail_ready must name an element only the detail view has"))
	}
	if c.Cookies.Store == "" {
		errs = append(errs, errors.New("cookies.store is required"))
	}
	if _, _, err := c.CookieKeys(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format))
	}

	return errors.Join(errs...)
}

// FilterConfig builds the validated slot filter.
func (c Config) FilterConfig() (calendar.FilterConfig, error) {
	return calendar.NewFilterConfig(c.Filter.Dates, c.Filter.Weekday, c.Filter.Facility)
}

// ReferenceURL is the link carried by availability notices.
func (c Config) ReferenceURL() string {
	if c.Target.ReferenceURL != "" {
		return c.Target.ReferenceURL
	}
	return c.Target.URL
}

// CookieDomain is the host seed cookies are scoped to when they name none.
func (c Config) CookieDomain() string {
	u, err := url.Parse(c.Target.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// CookieKeys decodes the snapshot sealing keys. Both are nil when sealing is
// not configured.
func (c Config) CookieKeys() (hash, block []byte, err error) {
	if c.Cookies.HashKey == "" {
		if c.Cookies.BlockKey != "" {
			return nil, nil, errors.New("cookies.block_key (COOKIE_BLOCK_KEY) requires cookies.hash_key")
		}
		return nil, nil, nil
	}
	hash, err = decodeB64(c.Cookies.HashKey)
	if err != nil {
		return nil, nil, fmt.Errorf("COOKIE_HASH_KEY: %w", err)
	}
	if c.Cookies.BlockKey != "" {
		block, err = decodeB64(c.Cookies.BlockKey)
		if err != nil {
			return nil, nil, fmt.Errorf("COOKIE_BLOCK_KEY: %w", err)
		}
	}
	return hash, block, nil
}

func absoluteURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", s)
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	b, err := os.ReadFile(s)
	if err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
