package logging

import "log/slog"

// Domain identifiers

func Conversation(id string) slog.Attr {
	return slog.String("conversation_id", id)
}

func Session(id string) slog.Attr {
	return slog.String("session_id", id)
}

func IdentityID(id string) slog.Attr {
	return slog.String("identity_id", id)
}

func Message(id string) slog.Attr {
	return slog.String("message_id", id)
}

func Sequence(seq int64) slog.Attr {
	return slog.Int64("sequence", seq)
}

func Language(lang string) slog.Attr {
	return slog.String("language", lang)
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
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
