package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_AllLogLevels(t *testing.T) {
	testCases := []struct {
		level         string
		expectedLevel zerolog.Level
		name          string
	}{
		{"debug", zerolog.DebugLevel, "debug"},
		{"info", zerolog.InfoLevel, "info"},
		{"warn", zerolog.WarnLevel, "warn"},
		{"warning", zerolog.WarnLevel, "warning alias"},
		{"error", zerolog.ErrorLevel, "error"},
		{"unknown", zerolog.InfoLevel, "unknown defaults to info"},
		{"", zerolog.InfoLevel, "empty defaults to info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger := New(Config{Level: tc.level, Pretty: false})
			assert.Equal(t, tc.expectedLevel, logger.GetLevel())
		})
	}
}

func TestNew_WritesMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: false}).Output(&buf)

	logger.Info().Msg("test message")
	assert.Contains(t, buf.String(), "test message")

	buf.Reset()
	logger.Debug().Msg("below level")
	assert.Empty(t, buf.String())
}
