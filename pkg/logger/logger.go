// Package logger provides the process-wide leveled logger. Messages go to an
// optional log file and an optional console writer; with neither configured
// everything is discarded.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalLogger = zerolog.Nop()
	logFile      *os.File
	console      io.Writer
	level        = zerolog.InfoLevel
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //#nosec G304 -- user-provided log path
	if err != nil {
		rebuild()
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	rebuild()
	return nil
}

// EnableConsole mirrors log output to w in human-readable form. Pass nil to
// turn the console writer off.
func EnableConsole(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	console = w
	rebuild()
}

// SetVerbose switches between debug and info level.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	if verbose {
		level = zerolog.DebugLevel
	} else {
		level = zerolog.InfoLevel
	}
	rebuild()
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	rebuild()
}

// rebuild recreates globalLogger from the current writers. Caller holds mu.
func rebuild() {
	var writers []io.Writer
	if logFile != nil {
		writers = append(writers, logFile)
	}
	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"})
	}

	switch len(writers) {
	case 0:
		globalLogger = zerolog.Nop()
		return
	case 1:
		globalLogger = zerolog.New(writers[0])
	default:
		globalLogger = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}
	globalLogger = globalLogger.Level(level).With().Timestamp().Logger()
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.Info().Msgf(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.Debug().Msgf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.Error().Msgf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.Warn().Msgf(format, v...)
}

// Timing logs how long an operation took at debug level, with the duration
// as a structured field.
func Timing(op string, start time.Time) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.Debug().Str("op", op).Dur("elapsed", time.Since(start)).Msg("timing")
}

// GetWriter returns the underlying writer for use by HTTP clients.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
