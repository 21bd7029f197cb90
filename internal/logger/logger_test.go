package logger_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"INFO", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"warn", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("verbose")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestComponentLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.InfoLevel) })

	log := logger.New("worker").With("source", "can")
	log.Info().Int("rpm", 4200).Msg("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker", entry["component"])
	assert.Equal(t, "can", entry["source"])
	assert.Equal(t, "tick", entry["message"])
	assert.EqualValues(t, 4200, entry["rpm"])
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.InfoLevel) })

	err := errors.New().Wrap(errors.ErrStartSource, io.EOF)
	logger.New("supervisor").ErrorWithContext(err, "worker", "start").Msg("start failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, string(errors.ErrStartSource), entry["error_code"])
	assert.Equal(t, "EOF", entry["error"])
	assert.Equal(t, "start", entry["operation"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.WarnLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.InfoLevel) })

	logger.Debug().Msg("hidden")
	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
