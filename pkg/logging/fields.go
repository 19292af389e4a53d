package logging

import (
	"log/slog"

	"github.com/google/uuid"
)

// Domain identifiers

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Conversation(id uuid.UUID) slog.Attr {
	return slog.String("conv_id", id.String())
}

func Message(id uuid.UUID) slog.Attr {
	return slog.String("message_id", id.String())
}

func Session(id string) slog.Attr {
	return slog.String("session_id", id)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
