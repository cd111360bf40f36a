// Package host defines the ports through which commands are deployed into a
// host engine: the command registry, the dependency store, the dependency
// inventory and the node lifecycle.
package host

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

var (
	ErrCommandNotFound         = errors.New("command not found")
	ErrCommandAlreadyExists    = errors.New("command already exists")
	ErrCommandNotBound         = errors.New("command main class is not bound")
	ErrDependencyNotFound      = errors.New("dependency not found")
	ErrDependencyAlreadyExists = errors.New("dependency already exists")
)

// RegisteredCommand is a command known to the host registry. Description
// carries "<signature>#<text>" when written by the orchestrator.
type RegisteredCommand struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MainClass   string `json:"main_class"`
}

// CommandRegistry lists, registers and invokes commands.
type CommandRegistry interface {
	ListAll(ctx context.Context) ([]RegisteredCommand, error)
	Register(ctx context.Context, name, description, mainClass string) (RegisteredCommand, error)
	Unregister(ctx context.Context, id string) error
	// Execute runs the command with an envelope bag holding the verb, the
	// tenant and the command parameters. The answer is either a params.Bag
	// or an opaque value returned verbatim by the command.
	Execute(ctx context.Context, id string, envelope params.Bag) (any, error)
}

// DependencyStore holds named dependency payloads.
type DependencyStore interface {
	AddDependency(ctx context.Context, name string, body []byte) error
	RemoveDependency(ctx context.Context, name string) error
}

// DependencyInventory answers which dependency names currently exist. It is
// read-only and is queried fresh for every deployment.
type DependencyInventory interface {
	FindDependencyNamesByPrefix(ctx context.Context, prefixes []string) ([]string, error)
}

// NodeLifecycle pauses and resumes the host node around dependency changes.
type NodeLifecycle interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Engine bundles the host ports used by a deployment. Lifecycle may be nil
// when the host does not need to be paused.
type Engine struct {
	Commands     CommandRegistry
	Dependencies DependencyStore
	Inventory    DependencyInventory
	Lifecycle    NodeLifecycle
}

// Validate reports a missing mandatory port.
func (e Engine) Validate() error {
	switch {
	case e.Commands == nil:
		return errors.New("host engine has no command registry")
	case e.Dependencies == nil:
		return errors.New("host engine has no dependency store")
	case e.Inventory == nil:
		return errors.New("host engine has no dependency inventory")
	}
	return nil
}
