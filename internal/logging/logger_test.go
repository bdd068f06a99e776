// Package logging provides unit tests for the logging facade.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "debug")
	Get().SetOutput(&buf)

	Info("record created", map[string]interface{}{"record_id": "abc-123"})

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))

	assert.Equal(t, "record created", entry["msg"])
	assert.Equal(t, "abc-123", entry["record_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestErrorField(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "debug")
	Get().SetOutput(&buf)

	Error("release failed", errors.New("connection probe failed"),
		map[string]interface{}{"pool_size": 4})

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))

	assert.Equal(t, "connection probe failed", entry["error"])
	assert.Equal(t, float64(4), entry["pool_size"])
}

func TestContextMerging(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "debug")
	Get().SetOutput(&buf)

	Warn("handler panic swallowed",
		map[string]interface{}{"event": "record_updated"},
		map[string]interface{}{"handler": 2})

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))

	assert.Equal(t, "record_updated", entry["event"])
	assert.Equal(t, float64(2), entry["handler"])
}
