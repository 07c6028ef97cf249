// Package logger provides the process-wide structured logger used by the
// connection manager and its connections. It keeps the small set of
// free functions callers reach for (Debug/Info/Warn/Error/Success/Fatal/
// Section/Banner) but backs them with zerolog instead of the standard
// library's log package, so every line can carry structured fields
// (peer, connect_code, stream) instead of needing to be parsed out of a
// colored string.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log levels, kept numerically compatible with the ad-hoc levels this
// package exposed before the zerolog rewrite.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

var defaultLogger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	defaultLogger = zerolog.New(writer).With().Timestamp().Logger()
}

// SetLevel sets the minimum log level emitted by the default logger.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		defaultLogger = defaultLogger.Level(zerolog.DebugLevel)
	case LevelInfo:
		defaultLogger = defaultLogger.Level(zerolog.InfoLevel)
	case LevelWarn:
		defaultLogger = defaultLogger.Level(zerolog.WarnLevel)
	case LevelError:
		defaultLogger = defaultLogger.Level(zerolog.ErrorLevel)
	case LevelSuccess:
		defaultLogger = defaultLogger.Level(zerolog.InfoLevel)
	}
}

// SetOutput redirects the default logger's writer, mainly so tests can
// assert on emitted log lines.
func SetOutput(w io.Writer) {
	defaultLogger = defaultLogger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// With returns a child logger carrying additional structured fields, e.g.
// logger.With("peer", addr.String(), "connect_code", cc).
func With(kv ...interface{}) zerolog.Logger {
	ctx := defaultLogger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ctx.Logger()
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

// Success logs at info level with a success marker; kept as a distinct
// name because connect/handshake completion is worth calling out
// separately from routine info lines.
func Success(format string, args ...interface{}) {
	defaultLogger.Info().Bool("success", true).Msgf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal().Msgf(format, args...)
}

// InfoCyan is kept for call-site compatibility with the pre-zerolog
// logger; color selection is now the console writer's job.
func InfoCyan(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

// Section prints a section header directly to stdout, bypassing zerolog
// formatting, for CLI banners.
func Section(title string) {
	border := "==============================================================="
	os.Stdout.WriteString("\n" + border + "\n")
	os.Stdout.WriteString(title + "\n")
	os.Stdout.WriteString(border + "\n\n")
}

// Banner prints the application banner for the daybreakd entry point.
func Banner(title, version string) {
	os.Stdout.WriteString("\n== " + title + " (v" + version + ") ==\n\n")
}
