// Package telemetry builds the zerolog loggers used across the entity store.
package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/argus-labs/entitystore/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Telemetry struct {
	Logger      zerolog.Logger
	serviceName string
}

// New loads the environment configuration, merges opts over it and builds the root logger.
func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}

	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	return Telemetry{
		Logger:      newLogger(options),
		serviceName: options.ServiceName,
	}, nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

func newLogger(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := opts.Writer
	if out == nil {
		out = os.Stdout
	}

	var writer io.Writer
	switch opts.LogFormat {
	case LogFormatPretty:
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	case LogFormatJSON:
		writer = out
	case LogFormatUndefined:
		assert.Unreachable("log format validated before logger construction")
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func init() { //nolint:gochecknoinits // Its fine
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	log.Logger = zerolog.New(consoleWriter). //nolint:reassign // Its fine
							With().
							Timestamp().
							Logger()
}

// GetGlobalLogger returns a component-specific logger using the global console logger. Packages
// fall back to it when no logger is injected.
func GetGlobalLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
