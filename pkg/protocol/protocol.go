// Package protocol implements the verb protocol spoken between the
// deployment orchestrator and a deployed command.
//
// Every call carries an envelope bag:
//
//	verb           the requested verb
//	tenantId       the tenant, 1 when absent
//	parametersCmd  a nested bag with the business parameters
//
// The reserved verbs PING, AFTERDEPLOYMENT and HELP are answered by the
// handler; any other verb is passed to Command.Execute.
package protocol

import (
	"context"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

// Envelope and answer keys.
const (
	KeyVerb          = "verb"
	KeyTenantID      = "tenantId"
	KeyParametersCmd = "parametersCmd"
	KeyStatus        = "status"
	KeyTimeInMs      = "timeinms"
	KeyListEvents    = "listevents"
	KeyPing          = "ping"
	KeyHelp          = "help"
)

// Reserved verbs.
const (
	VerbPing            = "PING"
	VerbAfterDeployment = "AFTERDEPLOYMENT"
	VerbHelp            = "HELP"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"

	// PingReply is the ping value answered by every command.
	PingReply = "hello world"

	// DefaultTenantID is used when the envelope carries no tenant.
	DefaultTenantID int64 = 1
)

// ExecuteParameters is the decoded envelope handed to a command.
type ExecuteParameters struct {
	Verb     string
	TenantID int64
	// Command holds the business parameters (parametersCmd).
	Command params.Bag
	// Envelope is the bag as received.
	Envelope params.Bag
}

// ParseEnvelope decodes an envelope bag. A missing tenant defaults to 1.
func ParseEnvelope(envelope params.Bag) *ExecuteParameters {
	cmd := envelope.Map(KeyParametersCmd)
	if cmd == nil {
		cmd = params.Bag{}
	}
	return &ExecuteParameters{
		Verb:     envelope.String(KeyVerb, ""),
		TenantID: envelope.Long(KeyTenantID, DefaultTenantID),
		Command:  cmd,
		Envelope: envelope,
	}
}

// NewEnvelope builds the bag sent to a command.
func NewEnvelope(verb string, tenantID int64, cmd params.Bag) params.Bag {
	if cmd == nil {
		cmd = params.Bag{}
	}
	return params.Bag{
		KeyVerb:          params.String(verb),
		KeyTenantID:      params.Long(tenantID),
		KeyParametersCmd: params.MapOf(cmd),
	}
}

func (p *ExecuteParameters) String(key, def string) string { return p.Command.String(key, def) }
func (p *ExecuteParameters) Long(key string, def int64) int64 { return p.Command.Long(key, def) }
func (p *ExecuteParameters) Int(key string, def int) int { return p.Command.Int(key, def) }
func (p *ExecuteParameters) Bool(key string, def bool) bool { return p.Command.Bool(key, def) }
func (p *ExecuteParameters) Map(key string) params.Bag { return p.Command.Map(key) }

// ExecuteAnswer is what a command hook returns.
type ExecuteAnswer struct {
	Result params.Bag
	Events []events.Event
	// Serializable, when set, is returned to the caller verbatim in place of
	// Result.
	Serializable any
	// LogAnswer controls whether the handler logs the final result.
	LogAnswer bool
}

// NewAnswer returns an empty answer that will be logged.
func NewAnswer() *ExecuteAnswer {
	return &ExecuteAnswer{Result: params.Bag{}, LogAnswer: true}
}

// OK returns an answer with status OK.
func OK() *ExecuteAnswer {
	a := NewAnswer()
	a.Result.Set(KeyStatus, StatusOK)
	return a
}

// AddEvent appends events to the answer.
func (a *ExecuteAnswer) AddEvent(list ...events.Event) {
	a.Events = append(a.Events, list...)
}

// Command is implemented by deployable command logic.
type Command interface {
	// Name is the registered command name; it keys the after-restart gate.
	Name() string
	Execute(ctx context.Context, p *ExecuteParameters) (*ExecuteAnswer, error)
	AfterDeployment(ctx context.Context, p *ExecuteParameters) (*ExecuteAnswer, error)
	AfterRestart(ctx context.Context, p *ExecuteParameters) (*ExecuteAnswer, error)
	Help(ctx context.Context, p *ExecuteParameters) string
}

// Base supplies default hooks; embed it and override what is needed.
type Base struct {
	CommandName string
}

func (b Base) Name() string { return b.CommandName }

func (Base) AfterDeployment(context.Context, *ExecuteParameters) (*ExecuteAnswer, error) {
	return OK(), nil
}

func (Base) AfterRestart(context.Context, *ExecuteParameters) (*ExecuteAnswer, error) {
	return OK(), nil
}

func (b Base) Help(context.Context, *ExecuteParameters) string {
	return "No help available for command " + b.CommandName
}
