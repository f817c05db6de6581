package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	logger.Info("sso_user_created", map[string]any{"user_id": "u-1"})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "info", payload["level"])
	assert.Equal(t, "sso_user_created", payload["message"])
	assert.Equal(t, "u-1", payload["user_id"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "error")

	logger.Info("ignored", nil)
	logger.Warn("ignored_too", nil)
	assert.Zero(t, buf.Len())

	logger.Error("kept", map[string]any{"error": "boom"})
	assert.Contains(t, buf.String(), `"kept"`)
}
