package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopBot struct{}

func (nopBot) Init(context.Context, *Config, *zap.SugaredLogger) (*Context, error) {
	return nil, nil
}

func (nopBot) Run(*Context) {}

func TestRegister(t *testing.T) {
	assert.True(t, Register("zeta-test", nopBot{}))
	assert.True(t, Register("alpha-test", nopBot{}))
	assert.False(t, Register("alpha-test", nopBot{}))

	var names []string
	for _, r := range GetThemAll() {
		names = append(names, r.Name)
	}
	assert.Subset(t, names, []string{"alpha-test", "zeta-test"})
	assert.IsNonDecreasing(t, names)
}

func TestNewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "bot.log")

	l, err := NewLogger(logFile, "debug")
	require.NoError(t, err)
	l.Sugar().Infow("hello", "usr", 1)
	_ = l.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"usr":1`)

	_, err = NewLogger("", "loud")
	assert.Error(t, err)
}
