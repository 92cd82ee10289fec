package observability_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/mindgate/internal/observability"
)

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		shouldRedact bool
	}{
		{"password is redacted", "password", "hunter2", true},
		{"access_token is redacted", "access_token", "eyJhbGciOi", true},
		{"refresh_token is redacted", "refresh_token", "rt-abc", true},
		{"jwt_secret is redacted", "jwt_secret", "s3cr3t", true},
		{"authorization is redacted", "Authorization", "Bearer xyz", true},
		{"cookie is redacted", "set_cookie", "mg_device=abc", true},
		{"storage_key is redacted", "storage_key", "mg-auth-token:abc", true},
		{"verification code is redacted", "code", "c0de", true},
		{"user_id not redacted", "user_id", "user123", false},
		{"path not redacted", "path", "/account", false},
		{"error_code not redacted", "error_code", "invalid_credentials", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(observability.NewRedactingHandler(&buf, nil))

			logger.Info("test", tt.key, tt.value)
			output := buf.String()

			if tt.shouldRedact {
				assert.Contains(t, output, "[REDACTED]")
				assert.NotContains(t, output, tt.value)
			} else {
				assert.Contains(t, output, tt.value)
				assert.NotContains(t, output, "[REDACTED]")
			}
		})
	}
}

func TestRedactingHandlerKeepsOriginalReplace(t *testing.T) {
	var buf bytes.Buffer
	opts := &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}
	slog.New(observability.NewRedactingHandler(&buf, opts)).Info("hello", "token", "x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, slog.TimeKey)
	assert.Equal(t, "[REDACTED]", entry["token"])
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := observability.InitLogger(observability.LogConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "mindgate",
		Environment: "test",
		Output:      &buf,
	})

	logger.Info("dropped")
	logger.Warn("kept", "refresh_token", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "mindgate", entry["service"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, "[REDACTED]", entry["refresh_token"])
	assert.Same(t, logger, slog.Default())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, observability.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, observability.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, observability.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, observability.ParseLevel("nonsense"))
}
