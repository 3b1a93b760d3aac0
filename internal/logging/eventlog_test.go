package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestEventLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(l *EventLogger)
	}{
		{"debug", func(l *EventLogger) { l.Debug("handling gesture", "command", ":LONGPRESS:") }},
		{"info", func(l *EventLogger) { l.Info("handling gesture", "command", ":LONGPRESS:") }},
		{"error", func(l *EventLogger) { l.Error("handling gesture", "command", ":LONGPRESS:") }},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewEventLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "handling gesture", entry["message"])
			assert.Equal(t, ":LONGPRESS:", entry["command"])
		})
	}
}

func TestEventLogger_TypedValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLogger(zerolog.New(&buf))

	l.Error("gesture failed",
		"error", errors.New("no marker selected"),
		"duration", 1500*time.Millisecond,
		"lat", 48.85,
		"id", int64(7),
		"markers", 3,
		"public", true,
		"fields", map[string]string{"title": "x"},
	)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "no marker selected", entry["error"])
	assert.Equal(t, float64(1500), entry["duration"])
	assert.Equal(t, 48.85, entry["lat"])
	assert.Equal(t, float64(7), entry["id"])
	assert.Equal(t, float64(3), entry["markers"])
	assert.Equal(t, true, entry["public"])
	assert.Equal(t, map[string]any{"title": "x"}, entry["fields"])
}

func TestEventLogger_MalformedPairs(t *testing.T) {
	var buf bytes.Buffer
	NewEventLogger(zerolog.New(&buf)).Info("odd", 1, "skipped", "kept", "yes", "dangling")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "yes", entry["kept"])
	assert.NotContains(t, entry, "dangling")
	assert.NotContains(t, entry, "skipped")
}

func TestEventLogger_DisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	NewEventLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)).Debug("hidden", "k", "v")
	assert.Empty(t, buf.String())
}
