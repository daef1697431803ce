package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/dedupe"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("NEWSBATCH_LOG_LEVEL", "")
	t.Setenv("NEWSBATCH_API_KEY", "")

	cfg := DefaultConfig()
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "./tmp/news_batch.json", cfg.BatchPath)
	require.Equal(t, dedupe.DefaultRules(), cfg.Rules)
	require.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	require.Equal(t, ":8080", cfg.ListenAddr())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.Local, loc)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Taipei"
	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Taipei", loc.String())

	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	require.Error(t, err)
}

func TestEnvGetters(t *testing.T) {
	t.Setenv("NB_INT", "12")
	t.Setenv("NB_BAD_INT", "twelve")
	t.Setenv("NB_BOOL", "true")
	t.Setenv("NB_MINUTES", "15")
	t.Setenv("NB_DURATION", "90s")
	t.Setenv("NB_LEVEL", "warn")
	t.Setenv("NB_LIST", " id , ,ref")
	t.Setenv("NB_EMPTY_LIST", "")

	require.Equal(t, 12, GetEnvInt("NB_INT", 1))
	require.Equal(t, 1, GetEnvInt("NB_BAD_INT", 1))
	require.True(t, GetEnvBool("NB_BOOL", false))
	require.Equal(t, 15*time.Minute, GetEnvDuration("NB_MINUTES", 0))
	require.Equal(t, 90*time.Second, GetEnvDuration("NB_DURATION", 0))
	require.Equal(t, zerolog.WarnLevel, GetEnvLogLevel("NB_LEVEL", zerolog.InfoLevel))
	require.Equal(t, []string{"id", "ref"}, GetEnvList("NB_LIST", nil))
	require.Equal(t, []string{}, GetEnvList("NB_EMPTY_LIST", []string{"x"}))
	require.Equal(t, []string{"x"}, GetEnvList("NB_UNSET_LIST", []string{"x"}))
	require.Equal(t, "fallback", GetEnvString("NB_UNSET", "fallback"))
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	require.Equal(t, dedupe.DefaultRules(), rules)

	rules, err = LoadRules(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, dedupe.DefaultRules(), rules)

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[canonical]
keep_query = ["id", "article"]
drop_params = []
`), 0644))

	rules, err = LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "article"}, rules.KeepQuery)
	require.Equal(t, []string{"utm_"}, rules.DropPrefixes)
	require.Empty(t, rules.DropParams)

	t.Setenv("NEWSBATCH_KEEP_QUERY", "p")
	rules, err = LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, []string{"p"}, rules.KeepQuery)
}

func TestLoadRulesInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[canonical]
keep_query = "id"`), 0644))

	_, err := LoadRules(path)
	require.Error(t, err)
}
