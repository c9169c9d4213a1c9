package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelWarn)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "[DEBUG]")
	assert.NotContains(t, out, "[INFO]")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")
}

func TestDefaultLogger_Prefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelInfo)

	logger.Info("hello")

	if !strings.Contains(buf.String(), "[grpo]") {
		t.Errorf("expected [grpo] prefix, got %q", buf.String())
	}
}

func TestGologLogger_SetLevel(t *testing.T) {
	gl := golog.New()
	logger := NewGologLogger(gl)

	assert.Equal(t, LogLevelInfo, logger.GetLevel())

	logger.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, logger.GetLevel())
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevelNone, "NONE"},
		{LogLevel(42), "UNKNOWN(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestPackageLevelLogger(t *testing.T) {
	old := GetDefaultLogger()
	defer SetDefaultLogger(old)

	var buf bytes.Buffer
	SetDefaultLogger(NewCustomLogger(&buf, LogLevelDebug))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	out := buf.String()
	for _, tag := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"} {
		assert.Contains(t, out, tag)
	}
}
