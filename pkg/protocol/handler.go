package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/observability"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

// EventInternalError reports a command hook that failed or panicked.
var EventInternalError = events.Event{
	Package:     "protocol",
	Code:        1,
	Level:       events.LevelError,
	Title:       "Internal error",
	Cause:       "The command raised an error while answering",
	Consequence: "The call did not complete",
	Action:      "Check the server log for the command error",
}

// Handler answers envelopes on behalf of a Command. It satisfies
// host.Invoker.
type Handler struct {
	cmd      Command
	gate     *FiredSet
	recorder observability.Recorder
	logger   *slog.Logger
}

type HandlerOption func(*Handler)

// WithGate replaces the process-wide after-restart gate.
func WithGate(gate *FiredSet) HandlerOption {
	return func(h *Handler) { h.gate = gate }
}

func WithRecorder(r observability.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(cmd Command, opts ...HandlerOption) *Handler {
	h := &Handler{
		cmd:      cmd,
		gate:     processGate,
		recorder: observability.Nop{},
		logger:   slog.Default().With("component", "protocol"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke dispatches one envelope and returns the result bag, or the
// answer's Serializable value when the command set one. The result always
// carries status, timeinms and listevents.
func (h *Handler) Invoke(ctx context.Context, envelope params.Bag) any {
	start := time.Now()
	p := ParseEnvelope(envelope)

	answer := h.dispatch(ctx, p)

	if answer.Result == nil {
		answer.Result = params.Bag{}
	}
	failed := events.IsError(answer.Events)
	if !answer.Result.Has(KeyStatus) {
		status := StatusOK
		if failed {
			status = StatusError
		}
		answer.Result.Set(KeyStatus, status)
	}
	elapsed := time.Since(start)
	answer.Result.Set(KeyTimeInMs, elapsed.Milliseconds())
	answer.Result.Set(KeyListEvents, events.HTML(answer.Events))

	h.recorder.RecordInvocation(ctx, h.cmd.Name(), p.Verb, elapsed, failed)

	if answer.LogAnswer {
		attrs := []any{
			"command", h.cmd.Name(),
			"verb", p.Verb,
			"tenant", p.TenantID,
			"duration_ms", elapsed.Milliseconds(),
		}
		if canonical, err := answer.Result.Canonical(); err == nil {
			attrs = append(attrs, "result", string(canonical))
		}
		if failed {
			attrs = append(attrs, "events", events.SyntheticErrors(answer.Events))
			h.logger.WarnContext(ctx, "command answered with errors", attrs...)
		} else {
			h.logger.InfoContext(ctx, "command answered", attrs...)
		}
	}

	if answer.Serializable != nil {
		return answer.Serializable
	}
	return answer.Result
}

func (h *Handler) dispatch(ctx context.Context, p *ExecuteParameters) (answer *ExecuteAnswer) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "command panicked",
				"command", h.cmd.Name(),
				"verb", p.Verb,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			answer = NewAnswer()
			answer.AddEvent(EventInternalError.WithErr(fmt.Errorf("panic: %v", r), "verb="+p.Verb))
		}
	}()

	var err error
	switch p.Verb {
	case VerbPing:
		answer = OK()
		answer.Result.Set(KeyPing, PingReply)
	case VerbHelp:
		answer = OK()
		answer.Result.Set(KeyHelp, h.cmd.Help(ctx, p))
	case VerbAfterDeployment:
		answer, err = h.cmd.AfterDeployment(ctx, p)
		h.afterRestartOnce(ctx, p)
	default:
		h.afterRestartOnce(ctx, p)
		answer, err = h.cmd.Execute(ctx, p)
	}

	if answer == nil {
		answer = NewAnswer()
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "command failed", "command", h.cmd.Name(), "verb", p.Verb, "error", err)
		answer.AddEvent(EventInternalError.WithErr(err, "verb="+p.Verb))
	}
	return answer
}

// afterRestartOnce runs the after-restart hook the first time any call
// reaches it for this command name in the process. Hook failures are
// logged and never affect the triggering call.
func (h *Handler) afterRestartOnce(ctx context.Context, p *ExecuteParameters) {
	name := h.cmd.Name()
	if name == "" || !h.gate.MarkFirst(name) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "after-restart hook panicked", "command", name, "panic", r)
		}
	}()

	restart := &ExecuteParameters{TenantID: p.TenantID, Command: params.Bag{}}
	answer, err := h.cmd.AfterRestart(ctx, restart)
	switch {
	case err != nil:
		h.logger.ErrorContext(ctx, "after-restart hook failed", "command", name, "error", err)
	case answer != nil && events.IsError(answer.Events):
		h.logger.WarnContext(ctx, "after-restart hook reported errors",
			"command", name, "events", events.SyntheticErrors(answer.Events))
	default:
		h.logger.InfoContext(ctx, "after-restart hook executed", "command", name, "tenant", p.TenantID)
	}
}
