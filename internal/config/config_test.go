package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KENPO_TARGET_URL", "https://kenpo.test/calendar")
	t.Setenv("KENPO_FILTER_FACILITY", "箱根保養所")
}

func TestLoadDefaults(t *testing.T) {
	minimalEnv(t)
	chdir(t, t.TempDir())

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://kenpo.test/calendar", cfg.Target.URL)
	assert.Equal(t, "https://kenpo.test/calendar", cfg.ReferenceURL())
	assert.Equal(t, "土曜日", cfg.Filter.Weekday)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Browser.CommitTimeout)
	assert.Equal(t, ".tb-calendar", cfg.Selectors.Calendar.Grid)
	assert.NotEmpty(t, cfg.Selectors.Captcha.Anchor)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Zero(t, cfg.Scheduler.Interval)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)

	f, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, "箱根保養所", f.Facility)
	assert.Empty(t, f.Dates)
}

func TestLoadLegacyEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TARGET_URL", "https://kenpo.test/legacy")
	t.Setenv("TARGET_FACILITY_NAME", "箱根保養所")
	t.Setenv("DATE_FILTER", "3月5日,3月12日")
	t.Setenv("WEBHOOK_URL", "https://chat.test/hook")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://kenpo.test/legacy", cfg.Target.URL)
	assert.Equal(t, "https://chat.test/hook", cfg.Notify.WebhookURL)

	f, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"03月05日", "03月12日"}, f.Dates)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	chdir(t, t.TempDir())
	minimalEnv(t)
	t.Setenv("TARGET_URL", "https://kenpo.test/legacy")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://kenpo.test/calendar", cfg.Target.URL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  url: https://kenpo.test/calendar
  reference_url: https://kenpo.test/top
filter:
  facility: 箱根保養所
  weekday: saturday
browser:
  headless: false
  commit_timeout: 0s
scheduler:
  interval: 15m
logger:
  format: json
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://kenpo.test/top", cfg.ReferenceURL())
	assert.False(t, cfg.Browser.Headless)
	assert.Zero(t, cfg.Browser.CommitTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "json", cfg.Logger.Format)

	f, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, "土曜日", f.Weekday)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	minimalEnv(t)
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) Config {
		chdir(t, t.TempDir())
		minimalEnv(t)
		cfg, err := FromEnv()
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.Target.URL = "" }, "target.url"},
		{"relative url", func(c *Config) { c.Target.URL = "/calendar" }, "not an absolute"},
		{"missing facility", func(c *Config) { c.Filter.Facility = " " }, "facility name required"},
		{"bad weekday", func(c *Config) { c.Filter.Weekday = "someday" }, "unknown weekday"},
		{"negative timeout", func(c *Config) { c.Browser.NavigationTimeout = -time.Second }, "navigation_timeout"},
		{"delay order", func(c *Config) { c.Browser.InputDelayMax = time.Millisecond }, "input_delay_max"},
		{"negative interval", func(c *Config) { c.Scheduler.Interval = -time.Minute }, "scheduler.interval"},
		{"block without hash", func(c *Config) { c.Cookies.BlockKey = "AAAA" }, "requires cookies.hash_key"},
		{"bad hash key", func(c *Config) { c.Cookies.HashKey = "!!" }, "COOKIE_HASH_KEY"},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"no store", func(c *Config) { c.Cookies.Store = "" }, "cookies.store"},
		{"detail ready is the grid", func(c *Config) { c.Selectors.Calendar.DetailReady = c.Selectors.Calendar.Grid }, "detail_ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid(t)
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestCookieDomain(t *testing.T) {
	assert.Equal(t, "kenpo.test", Config{Target: TargetConfig{URL: "https://kenpo.test:8443/calendar"}}.CookieDomain())
	assert.Empty(t, Config{}.CookieDomain())
}

func TestCookieKeys(t *testing.T) {
	hash := make([]byte, 32)
	block := make([]byte, 16)
	for i := range hash {
		hash[i] = byte(i)
	}

	t.Run("unset", func(t *testing.T) {
		h, b, err := Config{}.CookieKeys()
		require.NoError(t, err)
		assert.Nil(t, h)
		assert.Nil(t, b)
	})

	t.Run("inline", func(t *testing.T) {
		c := Config{Cookies: CookiesConfig{
			HashKey:  base64.StdEncoding.EncodeToString(hash),
			BlockKey: base64.StdEncoding.EncodeToString(block),
		}}
		h, b, err := c.CookieKeys()
		require.NoError(t, err)
		assert.Equal(t, hash, h)
		assert.Equal(t, block, b)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hash")
		require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(hash)+"\n"), 0o600))
		h, b, err := Config{Cookies: CookiesConfig{HashKey: path}}.CookieKeys()
		require.NoError(t, err)
		assert.Equal(t, hash, h)
		assert.Nil(t, b)
	})
}
