package bot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TG_TOKEN", "123:abc")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.TgToken)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, int64(0), cfg.AdminUserID)
	assert.Equal(t, "https://zenquotes.io/api/random", cfg.QuoteURL)
	assert.Equal(t, 2, cfg.QuoteMaxTries)
	assert.Equal(t, time.Second, cfg.QuoteBackoff)
	assert.Equal(t, 10*time.Second, cfg.QuoteTimeout)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "data/bot.db", cfg.DBConnStr)
	assert.Equal(t, 20*time.Second, cfg.QuizTimeout)
	assert.Equal(t, "09:00", cfg.BroadcastAt)
	assert.Equal(t, "America/New_York", cfg.BroadcastTimeZone)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TG_TOKEN=from-file\nADMIN_USER_ID=42\nQUOTE_MAX_TRIES=5\nCOMMAND_PREFIX=/\n"), 0o644))

	// variables that are already set win over the file
	t.Setenv("COMMAND_PREFIX", "?")
	for _, k := range []string{"TG_TOKEN", "ADMIN_USER_ID", "QUOTE_MAX_TRIES"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.TgToken)
	assert.Equal(t, int64(42), cfg.AdminUserID)
	assert.Equal(t, 5, cfg.QuoteMaxTries)
	assert.Equal(t, "?", cfg.CommandPrefix)
}

func TestLoadConfig_MissingFileIsFine(t *testing.T) {
	t.Setenv("TG_TOKEN", "x")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("TG_TOKEN", "")
	os.Unsetenv("TG_TOKEN")
	_, err := LoadConfig("")
	assert.Error(t, err, "token is required")

	t.Setenv("TG_TOKEN", "x")
	t.Setenv("QUOTE_MAX_TRIES", "0")
	t.Setenv("COMMAND_PREFIX", " ")
	_, err = LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUOTE_MAX_TRIES")
	assert.Contains(t, err.Error(), "COMMAND_PREFIX")

	t.Setenv("QUOTE_MAX_TRIES", "many")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadDBConfig(t *testing.T) {
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_PATH", "postgres://localhost/study")

	cfg, err := LoadDBConfig("")
	require.NoError(t, err)
	assert.Equal(t, DBConfig{DBDriver: "pgx", DBConnStr: "postgres://localhost/study"}, *cfg)
}
