package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
)

// State is the position of an attempt in the deployment state machine.
type State int

const (
	StateNotChecked State = iota
	StateChecked
	StateDeploying
	StateRegistered
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateNotChecked:
		return "not_checked"
	case StateChecked:
		return "checked"
	case StateDeploying:
		return "deploying"
	case StateRegistered:
		return "registered"
	case StateVerified:
		return "verified"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is what the resolver did with one dependency.
type Action string

const (
	ActionDeployed Action = "deployed"
	ActionKept     Action = "kept"
	ActionFailed   Action = "failed"
)

// Outcome records the resolution of one dependency.
type Outcome struct {
	Name   string
	Key    string
	Action Action
}

// DeployStatus accumulates the result of one deployment attempt.
type DeployStatus struct {
	AttemptID   string
	CommandName string
	State       State
	Events      []events.Event

	AlreadyDeployed bool
	NewDeployment   bool
	// SignatureJar is the signature of the main artifact on disk.
	SignatureJar string
	// SignatureCommand is the signature found in the registered description.
	SignatureCommand string
	// Command is the registered command, nil when none is registered.
	Command  *host.RegisteredCommand
	Outcomes []Outcome

	info   strings.Builder
	errors strings.Builder
}

func newStatus(name string) *DeployStatus {
	return &DeployStatus{AttemptID: uuid.NewString(), CommandName: name}
}

// HasErrors reports whether an error-level event was recorded.
func (s *DeployStatus) HasErrors() bool {
	return events.IsError(s.Events)
}

// Trace returns the info and error trace lines.
func (s *DeployStatus) Trace() (info, errors string) {
	return s.info.String(), s.errors.String()
}

func (s *DeployStatus) addEvent(e ...events.Event) {
	s.Events = append(s.Events, e...)
}

func (s *DeployStatus) infof(format string, args ...any) {
	fmt.Fprintf(&s.info, format, args...)
	s.info.WriteByte(';')
}

func (s *DeployStatus) errorf(format string, args ...any) {
	fmt.Fprintf(&s.errors, format, args...)
	s.errors.WriteByte(';')
}

func (s *DeployStatus) flush(ctx context.Context, logger *slog.Logger) {
	logger = logger.With("attempt", s.AttemptID, "command", s.CommandName)
	if s.info.Len() > 0 {
		logger.DebugContext(ctx, "deployment trace", "trace", s.info.String())
	}
	if s.errors.Len() > 0 {
		logger.ErrorContext(ctx, "deployment errors", "trace", s.errors.String(), "events", events.SyntheticErrors(s.Events))
	}
}
