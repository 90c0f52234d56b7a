package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/huru0825/kenpo-watcher/internal/auth"
	"github.com/huru0825/kenpo-watcher/internal/cookies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func watcherEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	store := filepath.Join(dir, "cookies.yaml")
	t.Setenv("KENPO_TARGET_URL", "https://kenpo.test/calendar")
	t.Setenv("KENPO_FILTER_FACILITY", "箱根保養所")
	t.Setenv("KENPO_COOKIES_STORE", "file://"+store)
	return store
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "kenpowatch dev (commit=none, built=unknown)\n", out)
}

func TestKeys(t *testing.T) {
	out, err := execute(t, "", "keys")
	require.NoError(t, err)

	m := regexp.MustCompile(`(?m)^export COOKIE_HASH_KEY=(\S+)\nexport COOKIE_BLOCK_KEY=(\S+)$`).FindStringSubmatch(out)
	require.Len(t, m, 3)
	hash, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)
	block, err := base64.StdEncoding.DecodeString(m[2])
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Len(t, block, 32)

	_, err = cookies.NewSealedCodec(hash, block)
	assert.NoError(t, err)
}

func TestTokenHash(t *testing.T) {
	hashOf := func(out string) string {
		m := regexp.MustCompile(`export RUN_TOKEN_HASH='([^']+)'`).FindStringSubmatch(out)
		require.Len(t, m, 2)
		return m[1]
	}

	t.Run("argument", func(t *testing.T) {
		out, err := execute(t, "", "token", "hash", "s3cret")
		require.NoError(t, err)
		assert.True(t, auth.CheckToken(hashOf(out), "s3cret"))
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := execute(t, "s3cret\n", "token", "hash")
		require.NoError(t, err)
		assert.True(t, auth.CheckToken(hashOf(out), "s3cret"))
	})

	t.Run("generate", func(t *testing.T) {
		out, err := execute(t, "", "token", "hash", "--generate")
		require.NoError(t, err)
		m := regexp.MustCompile(`token: (\S+)`).FindStringSubmatch(out)
		require.Len(t, m, 2)
		assert.True(t, auth.CheckToken(hashOf(out), m[1]))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := execute(t, "\n", "token", "hash")
		assert.ErrorContains(t, err, "must not be empty")
	})
}

func TestConfigRequiredOnlyWhereNeeded(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KENPO_TARGET_URL", "")
	t.Setenv("TARGET_URL", "")

	_, err := execute(t, "", "version")
	assert.NoError(t, err)

	_, err = execute(t, "", "cookies", "show")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestCookiesImportAndShow(t *testing.T) {
	store := watcherEnv(t)
	seed := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(seed, []byte(`[
  {"name":"_src_session","value":"abcdef123456","domain":"kenpo.test","path":"/"},
  {"name":"lang","value":"ja","domain":"kenpo.test","path":"/"}
]`), 0o600))

	out, err := execute(t, "", "cookies", "import", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 cookies")
	assert.FileExists(t, store)

	out, err = execute(t, "", "cookies", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "_src_session")
	assert.Contains(t, out, "abcd…")
	assert.NotContains(t, out, "abcdef123456")

	out, err = execute(t, "", "cookies", "show", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "abcdef123456")
}

func TestCookiesImportStdinSealed(t *testing.T) {
	store := watcherEnv(t)
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i + 1)
	}
	t.Setenv("COOKIE_HASH_KEY", base64.StdEncoding.EncodeToString(hash))

	_, err := execute(t, `[{"name":"_src_session","value":"sealed-value"}]`, "cookies", "import", "-")
	require.NoError(t, err)

	raw, err := os.ReadFile(store)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "_src_session", "sealed snapshots are opaque")

	out, err := execute(t, "", "cookies", "show", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "sealed-value")
}

func TestCookiesImportEmpty(t *testing.T) {
	watcherEnv(t)
	_, err := execute(t, "[]", "cookies", "import", "-")
	assert.ErrorContains(t, err, "no cookies")
}

func TestMasked(t *testing.T) {
	got := masked(cookies.Snapshot{Entries: []cookies.Entry{
		{Name: "a", Value: "abcdefgh"},
		{Name: "b", Value: "ab"},
		{Name: "c"},
	}})
	assert.Equal(t, "abcd…", got.Entries[0].Value)
	assert.Equal(t, "…", got.Entries[1].Value)
	assert.Empty(t, got.Entries[2].Value)
}
