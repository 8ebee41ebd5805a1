package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", false)

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "synthesis").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "exactly one JSON entry, got %q", buf.String())
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "synthesis", entry["component"])
	assert.Contains(t, entry, "time")
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).With().Str("component", "api").Logger()

	logger, id := WithCorrelationID(base, "req-42")
	assert.Equal(t, "req-42", id)
	logger.Info().Msg("tagged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry["correlation_id"])
	assert.Equal(t, "api", entry["component"], "base logger fields are kept")
}

func TestWithCorrelationID_Generates(t *testing.T) {
	_, first := WithCorrelationID(zerolog.Nop(), "")
	_, second := WithCorrelationID(zerolog.Nop(), "")

	assert.Len(t, first, 36, "a UUID is generated")
	assert.NotEqual(t, first, second)
}
