package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	SetLogDir("")
	l, err := NewLogger("herd")
	require.NoError(t, err)

	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Debug("скрыто")
	l.Info("лидер %d", 7)
	l.Warn("пустое стадо")

	out := buf.String()
	assert.NotContains(t, out, "скрыто")
	assert.Contains(t, out, "[INFO] [herd] лидер 7")
	assert.Contains(t, out, "[WARN] [herd] пустое стадо")

	l.SetLevels(DEBUG, DEBUG)
	l.Debug("видно")
	assert.Contains(t, buf.String(), "видно")
}

func TestLoggerManager_ReusesComponentLoggers(t *testing.T) {
	SetLogDir("")
	lm := GetLoggerManager()

	a := lm.MustGetLogger("memory")
	b := lm.MustGetLogger("memory")
	assert.Same(t, a, b)
	assert.Contains(t, lm.ListComponents(), "memory")

	require.NoError(t, lm.SetLogLevel("memory", WARN, ERROR))
	assert.Error(t, lm.SetLogLevel("missing", WARN, ERROR))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("ничего") })
}
