// Package events carries the structured diagnostics produced while deploying
// and calling commands. Failures never escape as errors from the deployment
// surface; they are accumulated as Event values and rendered for the caller.
package events

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
)

// Level classifies an event. Levels at or above LevelAppError are errors.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelAppError
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelSuccess:
		return "SUCCESS"
	case LevelWarning:
		return "WARNING"
	case LevelAppError:
		return "APPLICATION_ERROR"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// IsError reports whether the level blocks a deployment from registering.
func (l Level) IsError() bool {
	return l >= LevelAppError
}

// Event is one diagnostic record. Catalog entries are declared as package
// variables and specialised with With / WithErr at the point of failure.
type Event struct {
	Package     string
	Code        int
	Level       Level
	Title       string
	Cause       string
	Consequence string
	Action      string
	Parameters  string
	Err         error
}

// Key identifies the catalog entry, e.g. "deploy:2".
func (e Event) Key() string {
	return fmt.Sprintf("%s:%d", e.Package, e.Code)
}

// IsError reports whether the event is error-level.
func (e Event) IsError() bool {
	return e.Level.IsError()
}

// With returns a copy carrying the given parameters.
func (e Event) With(parameters string) Event {
	e.Parameters = parameters
	return e
}

// WithErr returns a copy carrying a parameters string and the underlying error.
func (e Event) WithErr(err error, parameters string) Event {
	e.Parameters = parameters
	e.Err = err
	return e
}

// Same reports whether two events come from the same catalog entry.
func (e Event) Same(other Event) bool {
	return e.Package == other.Package && e.Code == other.Code
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) %s", e.Key(), e.Level, e.Title)
	if e.Parameters != "" {
		b.WriteString(" - ")
		b.WriteString(e.Parameters)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// IsError reports whether any event in the list is error-level.
func IsError(list []Event) bool {
	for _, e := range list {
		if e.IsError() {
			return true
		}
	}
	return false
}

// Contains reports whether the list holds an event of the same catalog entry.
func Contains(list []Event, target Event) bool {
	for _, e := range list {
		if e.Same(target) {
			return true
		}
	}
	return false
}

// Synthetic renders a one-line-per-event plain text summary.
func Synthetic(list []Event) string {
	var b strings.Builder
	for i, e := range list {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.String())
	}
	return b.String()
}

// SyntheticErrors is Synthetic restricted to error-level events.
func SyntheticErrors(list []Event) string {
	var errs []Event
	for _, e := range list {
		if e.IsError() {
			errs = append(errs, e)
		}
	}
	return Synthetic(errs)
}

// HTML renders the list as an HTML fragment for callers that display it.
// An empty list renders as the empty string.
func HTML(list []Event) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<table class="cmdkit-events">`)
	for _, e := range list {
		class := "event-info"
		if e.IsError() {
			class = "event-error"
		} else if e.Level == LevelSuccess {
			class = "event-success"
		}
		fmt.Fprintf(&b, `<tr class="%s"><td>%s</td><td><b>%s</b>`,
			class, html.EscapeString(e.Key()), html.EscapeString(e.Title))
		if e.Cause != "" {
			fmt.Fprintf(&b, "<br>%s", html.EscapeString(e.Cause))
		}
		if e.Parameters != "" {
			fmt.Fprintf(&b, "<br><i>%s</i>", html.EscapeString(e.Parameters))
		}
		if e.Err != nil {
			fmt.Fprintf(&b, "<br><i>%s</i>", html.EscapeString(e.Err.Error()))
		}
		if e.IsError() && e.Action != "" {
			fmt.Fprintf(&b, "<br>%s", html.EscapeString(e.Action))
		}
		b.WriteString("</td></tr>")
	}
	b.WriteString("</table>")
	return b.String()
}

// Sink receives events as they are produced.
type Sink interface {
	Record(ctx context.Context, list []Event)
}

// LogSink writes events to a structured logger, error-level events at ERROR.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a sink on the default logger.
func NewLogSink() *LogSink {
	return &LogSink{Logger: slog.Default().With("component", "events")}
}

func (s *LogSink) Record(ctx context.Context, list []Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, e := range list {
		attrs := []any{
			"event", e.Key(),
			"severity", e.Level.String(),
		}
		if e.Parameters != "" {
			attrs = append(attrs, "parameters", e.Parameters)
		}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}
		if e.IsError() {
			logger.ErrorContext(ctx, e.Title, attrs...)
		} else {
			logger.InfoContext(ctx, e.Title, attrs...)
		}
	}
}
