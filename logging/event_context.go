package logging

import "github.com/rs/zerolog"

// EventContext carries the identifiers of a result event for structured logging.
type EventContext struct {
	SessionID  string
	ResultID   string
	DetailID   string
	ResultType string
}

// WithEventContext adds the non-empty event fields to a log event.
func WithEventContext(event *zerolog.Event, ctx *EventContext) *zerolog.Event {
	if ctx == nil {
		return event
	}

	if ctx.SessionID != "" {
		event = event.Str(FieldSessionID, ctx.SessionID)
	}
	if ctx.ResultID != "" {
		event = event.Str(FieldResultID, ctx.ResultID)
	}
	if ctx.DetailID != "" {
		event = event.Str(FieldDetailID, ctx.DetailID)
	}
	if ctx.ResultType != "" {
		event = event.Str(FieldResultType, ctx.ResultType)
	}

	return event
}
