package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		Input    string
		Expected zapcore.Level
		Err      bool
	}{
		{Name: "empty defaults to info", Input: "", Expected: zapcore.InfoLevel},
		{Name: "debug", Input: "debug", Expected: zapcore.DebugLevel},
		{Name: "mixed case and spaces", Input: "  WARN ", Expected: zapcore.WarnLevel},
		{Name: "warning alias", Input: "warning", Expected: zapcore.WarnLevel},
		{Name: "error", Input: "error", Expected: zapcore.ErrorLevel},
		{Name: "numeric", Input: "-1", Expected: zapcore.DebugLevel},
		{Name: "unknown", Input: "verbose", Err: true},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			level, err := ParseLevel(aTestCase.Input)
			if aTestCase.Err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Expected, level)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "minidb.log")

	logger, err := New("warn", logPath)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	logger.Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"severity":"WARN"`)
	assert.Contains(t, string(data), `"msg":"kept"`)

	_, err = New("loud")
	assert.Error(t, err)
}
