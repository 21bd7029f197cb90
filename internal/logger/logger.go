package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/racedash/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

const ErrInvalidLevel = errors.ErrInvalidLogLevel

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the global logger with the given level
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(level)
}

// InitWithWriter points the global logger at w without console formatting
func InitWithWriter(w io.Writer, level LogLevel) {
	log = zerolog.New(w).With().Timestamp().Logger()
	SetLogLevel(level)
}

// ParseLevel converts a configured level name into a LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(ErrInvalidLevel, level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return withCode(log.Fatal(), err)
}

func withCode(event *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{event.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// componentLogger is a Logger bound to a fixed set of context fields.
type componentLogger struct {
	zl zerolog.Logger
}

// New returns a Logger that tags every event with component=name.
// It shares the global logger's output, so Init must run first.
func New(component string) Logger {
	return &componentLogger{zl: log.With().Str("component", component).Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &componentLogger{zl: zerolog.Nop()}
}

func (l *componentLogger) Debug() *LogEvent {
	return &LogEvent{l.zl.Debug()}
}

func (l *componentLogger) Info() *LogEvent {
	return &LogEvent{l.zl.Info()}
}

func (l *componentLogger) Warn() *LogEvent {
	return &LogEvent{l.zl.Warn()}
}

func (l *componentLogger) Error() *LogEvent {
	return &LogEvent{l.zl.Error()}
}

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(l.zl.Error(), err)
}

func (l *componentLogger) ErrorWithContext(err errors.Error, component, operation string) *LogEvent {
	e := withCode(l.zl.Error(), err)
	e.Str("failed_component", component).Str("operation", operation)

	return e
}

func (l *componentLogger) With(key, value string) Logger {
	return &componentLogger{zl: l.zl.With().Str(key, value).Logger()}
}
