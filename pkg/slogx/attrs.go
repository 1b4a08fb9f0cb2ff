package slogx

import (
	"fmt"
	"log/slog"
)

const (
	// KeyLoggerName is the attribute key that scopes a log line to a component.
	KeyLoggerName = "logger"

	// KeyJobID is the attribute key for queued job identifiers.
	KeyJobID = "job_id"

	// KeyChannel is the attribute key for notification channel names.
	KeyChannel = "channel"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr with the given key and the byte slice rendered as a string.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer creates a slog.Attr with the provided key and the string representation
// of the given fmt.Stringer value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// LoggerName creates a slog.Attr with the provided logger name.
// Components derive their logger with
//
//	slog.Default().With(slogx.LoggerName("shuttle.queue"))
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// JobID tags a log line with the queued job it belongs to.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Channel tags a log line with a notification channel name.
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// Truncate shortens long values (payload dumps, agent responses) before they are logged.
func Truncate(key, value string, limit int) slog.Attr {
	if limit > 0 && len(value) > limit {
		value = value[:limit] + "..."
	}
	return slog.String(key, value)
}
