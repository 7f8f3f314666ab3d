package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(Config{Level: "info", Format: format})
		require.NoError(t, err)
		assert.NotNil(t, l.Logger)
	}

	_, err := New(Config{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestLogRequestRedactsSensitiveHeaders(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core)).WithRequestID("req-1")

	l.LogRequest("POST", "/v1/sanitize", map[string][]string{
		"Authorization": {"Basic c2VjcmV0"},
		"X-Api-Key":     {"k"},
		"Content-Type":  {"application/json"},
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])

	headers, ok := fields["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", headers["Authorization"])
	assert.Equal(t, "[REDACTED]", headers["X-Api-Key"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestWrapNil(t *testing.T) {
	assert.NotPanics(t, func() {
		Wrap(nil).WithComponent("x").WithTenant("t").Info("ignored")
	})
}
