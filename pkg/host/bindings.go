package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

// Invoker runs one command call. protocol.Handler is the usual implementation.
type Invoker interface {
	Invoke(ctx context.Context, envelope params.Bag) any
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, envelope params.Bag) any

func (f InvokerFunc) Invoke(ctx context.Context, envelope params.Bag) any {
	return f(ctx, envelope)
}

// Factory builds the invoker for a registered command. Hosts call it for
// every execution, mirroring engines that instantiate the main class per call.
type Factory func(commandName string) Invoker

// Bindings maps command main classes to the code that implements them.
type Bindings struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// Bind associates mainClass with f, replacing any previous binding.
func (b *Bindings) Bind(mainClass string, f Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.factories == nil {
		b.factories = make(map[string]Factory)
	}
	b.factories[mainClass] = f
}

// Bound reports whether mainClass has a binding.
func (b *Bindings) Bound(mainClass string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.factories[mainClass]
	return ok
}

// Invoke dispatches envelope to the code bound to cmd's main class.
func (b *Bindings) Invoke(ctx context.Context, cmd RegisteredCommand, envelope params.Bag) (any, error) {
	b.mu.RLock()
	f, ok := b.factories[cmd.MainClass]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (command %s)", ErrCommandNotBound, cmd.MainClass, cmd.Name)
	}
	return f(cmd.Name).Invoke(ctx, envelope), nil
}
