package telemetry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	t.Run("defaults write json at info", func(t *testing.T) {
		var buf bytes.Buffer
		tel, err := New(Options{Writer: &buf})
		require.NoError(t, err)

		logger := tel.GetLogger("store")
		logger.Debug().Msg("hidden")
		logger.Info().Msg("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"message":"shown"`)
		assert.Contains(t, out, `"component":"entitystore.store"`)
	})

	t.Run("environment sets level and format", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOG_LEVEL", "debug")
		t.Setenv("ENTITYSTORE_LOG_FORMAT", "pretty")

		var buf bytes.Buffer
		tel, err := New(Options{ServiceName: "game", Writer: &buf})
		require.NoError(t, err)

		logger := tel.GetLogger("prefab")
		logger.Debug().Msg("shown")
		out := buf.String()
		assert.Contains(t, out, "shown")
		assert.Contains(t, out, "game.prefab")
		assert.NotContains(t, out, `"message"`)
	})

	t.Run("options override the environment", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOG_LEVEL", "debug")

		var buf bytes.Buffer
		tel, err := New(Options{LogLevel: "error", LogFormat: LogFormatJSON, Writer: &buf})
		require.NoError(t, err)
		tel.Logger.Warn().Msg("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("invalid environment", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOG_LEVEL", "loud")
		_, err := New(Options{})
		require.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_LOG_FORMAT", "xml")
		_, err := New(Options{})
		require.Error(t, err)
	})

	t.Run("invalid option level", func(t *testing.T) {
		_, err := New(Options{LogLevel: "loud"})
		require.Error(t, err)
	})
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want LogFormat
	}{
		{in: "json", want: LogFormatJSON},
		{in: "JSON", want: LogFormatJSON},
		{in: "pretty", want: LogFormatPretty},
		{in: "", want: LogFormatUndefined},
		{in: "xml", want: LogFormatUndefined},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogFormat(tt.in), tt.in)
	}
	assert.Equal(t, "json", LogFormatJSON.String())
	assert.Equal(t, "pretty", LogFormatPretty.String())
	assert.Equal(t, "undefined", LogFormatUndefined.String())
}
