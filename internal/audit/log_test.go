package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	original := *obs.Logger()
	var buf bytes.Buffer
	obs.SetLogger(zerolog.New(&buf))
	defer obs.SetLogger(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithHandle(ctx, "0xabc")

	require.NoError(t, LogEvent(ctx, "token.issued", map[string]any{"foo": "bar"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "token.issued", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "0xabc", entry["handle"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bar", fields["foo"])

	assert.Error(t, LogEvent(ctx, " ", nil))
}
