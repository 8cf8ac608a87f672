package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithAttemptID(ctx, "att-9")

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "att-9", entry[FieldAttemptID])
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := WithContext(context.Background(), base)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, FieldRequestID)
	assert.NotContains(t, entry, FieldAttemptID)
}

func TestConfigure_ComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Reset()
	Configure(Config{Level: "debug", Output: &buf, Service: "kina-test"})
	t.Cleanup(Reset)

	l := WithComponent("watchflow")
	l.Debug().Msg("transition")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "watchflow", entry[FieldComponent])
	assert.Equal(t, "kina-test", entry["service"])
}
