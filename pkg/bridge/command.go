package bridge

import (
	"context"

	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
)

// DetachedCommand is command logic that runs on a detached worker with its
// own API accessor.
type DetachedCommand interface {
	Name() string
	ExecuteDetached(ctx context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error)
	AfterDeploymentDetached(ctx context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error)
	AfterRestartDetached(ctx context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error)
	Help(ctx context.Context, p *protocol.ExecuteParameters) string
	// WaitAnswer reports whether callers block until the worker answers.
	WaitAnswer() bool
}

// DetachedBase supplies default hooks for DetachedCommand implementations.
// The zero value waits for answers.
type DetachedBase struct {
	CommandName string
	// FireAndForget makes callers return without waiting.
	FireAndForget bool
}

func (b DetachedBase) Name() string { return b.CommandName }

func (b DetachedBase) WaitAnswer() bool { return !b.FireAndForget }

func (DetachedBase) AfterDeploymentDetached(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
	return protocol.OK(), nil
}

func (DetachedBase) AfterRestartDetached(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
	return protocol.OK(), nil
}

func (b DetachedBase) Help(context.Context, *protocol.ExecuteParameters) string {
	return "No help available for command " + b.CommandName
}

// Adapt exposes a DetachedCommand as a protocol.Command whose hooks run
// through b.
func Adapt(cmd DetachedCommand, b *Bridge) protocol.Command {
	return &adapted{cmd: cmd, bridge: b}
}

type adapted struct {
	cmd    DetachedCommand
	bridge *Bridge
}

func (a *adapted) Name() string { return a.cmd.Name() }

func (a *adapted) Execute(ctx context.Context, p *protocol.ExecuteParameters) (*protocol.ExecuteAnswer, error) {
	return a.bridge.RunDetached(ctx, KindExecute, a.cmd, p), nil
}

func (a *adapted) AfterDeployment(ctx context.Context, p *protocol.ExecuteParameters) (*protocol.ExecuteAnswer, error) {
	return a.bridge.RunDetached(ctx, KindAfterDeployment, a.cmd, p), nil
}

func (a *adapted) AfterRestart(ctx context.Context, p *protocol.ExecuteParameters) (*protocol.ExecuteAnswer, error) {
	return a.bridge.RunDetached(ctx, KindAfterRestart, a.cmd, p), nil
}

func (a *adapted) Help(ctx context.Context, p *protocol.ExecuteParameters) string {
	return a.cmd.Help(ctx, p)
}
