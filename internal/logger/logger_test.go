package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Run fn with stdout and stderr redirected to pipes and return what was written
func captureOutput(t *testing.T, fn func()) (stdout string, stderr string) {
	t.Helper()

	origOut, origErr := os.Stdout, os.Stderr
	t.Cleanup(func() { os.Stdout, os.Stderr = origOut, origErr })

	rOut, wOut, err := os.Pipe()
	require.NoError(t, err, "stdout pipe should be created")
	rErr, wErr, err := os.Pipe()
	require.NoError(t, err, "stderr pipe should be created")

	os.Stdout, os.Stderr = wOut, wErr
	fn()
	os.Stdout, os.Stderr = origOut, origErr

	require.NoError(t, wOut.Close())
	require.NoError(t, wErr.Close())

	outBytes, err := io.ReadAll(rOut)
	require.NoError(t, err)
	errBytes, err := io.ReadAll(rErr)
	require.NoError(t, err)

	return string(outBytes), string(errBytes)
}

func TestLogger_parseLevel(t *testing.T) {
	t.Run("known levels", func(t *testing.T) {
		tests := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"DEBUG", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"Warn", slog.LevelWarn},
			{"ERROR", slog.LevelError},
		}

		for _, tt := range tests {
			t.Run(tt.input, func(t *testing.T) {
				got, err := parseLevel(tt.input)

				require.NoError(t, err)
				require.Equal(t, tt.expected, got)
			})
		}
	})

	t.Run("unknown levels fail", func(t *testing.T) {
		for _, value := range []string{"", "verbose", "trace"} {
			_, err := parseLevel(value)
			require.Errorf(t, err, "level %q must not be parsed", value)
		}
	})
}

func TestLogger_New(t *testing.T) {
	t.Run("production is json", func(t *testing.T) {
		_, stderr := captureOutput(t, func() {
			l, err := New(EnvProduction, LevelInfo)
			require.NoError(t, err)
			l.Info("session restored", "user", "admin")
		})

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(stderr), &entry), "production logs should be valid JSON")
		require.Equal(t, "session restored", entry["msg"])
		require.Equal(t, "admin", entry["user"])
	})

	t.Run("development is text", func(t *testing.T) {
		_, stderr := captureOutput(t, func() {
			l, err := New(EnvDevelopment, LevelInfo)
			require.NoError(t, err)
			l.Info("session restored", "user", "admin")
		})

		require.Contains(t, stderr, "msg=\"session restored\"")
		require.Contains(t, stderr, "user=admin")
	})

	t.Run("unknown environment", func(t *testing.T) {
		_, err := New("staging", LevelInfo)
		require.Error(t, err)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(EnvProduction, "loud")
		require.Error(t, err)
	})
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFn    func(Logger)
		isLogged bool
	}{
		{"debug passes on debug", LevelDebug, func(l Logger) { l.Debug("m") }, true},
		{"debug skipped on info", LevelInfo, func(l Logger) { l.Debug("m") }, false},
		{"info passes on info", LevelInfo, func(l Logger) { l.Info("m") }, true},
		{"info skipped on warn", LevelWarn, func(l Logger) { l.Info("m") }, false},
		{"warn passes on warn", LevelWarn, func(l Logger) { l.Warn("m") }, true},
		{"warn skipped on error", LevelError, func(l Logger) { l.Warn("m") }, false},
		{"error passes on error", LevelError, func(l Logger) { l.Error("m") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr := captureOutput(t, func() {
				l, err := NewTextLogger(tt.level)
				require.NoError(t, err)
				tt.logFn(l)
			})

			require.Empty(t, stdout, "logger must never write to stdout")
			require.Equal(t, tt.isLogged, len(stderr) > 0)
		})
	}
}

func TestLogger_WithAndSource(t *testing.T) {
	_, stderr := captureOutput(t, func() {
		l, err := NewTextLogger(LevelInfo)
		require.NoError(t, err)

		l.With("component", "auth").WithGroup("req").Info("refreshed", "id", 7)
	})

	require.Contains(t, stderr, "component=auth")
	require.Contains(t, stderr, "req.id=7")
	require.Contains(t, stderr, "source=logger_test.go:", "source should point to the caller with trimmed directory")
}

func TestLogger_NoOp(t *testing.T) {
	stdout, stderr := captureOutput(t, func() {
		l := OrNoOp(nil)
		l.Error("nobody hears this")
		NewNoOpLogger().Info("nor this")
	})

	require.Empty(t, stdout)
	require.Empty(t, stderr)
}

func TestLogger_RedactsSecrets(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"refreshToken", true},
		{"Authorization", true},
		{"_csrf", true},
		{"email", false},
		{"action", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, stderr := captureOutput(t, func() {
				l, err := NewJSONLogger(LevelInfo)
				require.NoError(t, err)
				l.Info("login", tt.key, "value-1")
			})

			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(stderr), &entry))
			if tt.redacted {
				require.Equal(t, Redacted, entry[tt.key])
			} else {
				require.Equal(t, "value-1", entry[tt.key])
			}
		})
	}

	t.Run("inside group", func(t *testing.T) {
		_, stderr := captureOutput(t, func() {
			l, err := NewTextLogger(LevelInfo)
			require.NoError(t, err)
			l.WithGroup("session").Info("stored", "token", "jwt-value")
		})

		require.Contains(t, stderr, "session.token="+Redacted)
		require.NotContains(t, stderr, "jwt-value")
	})
}
