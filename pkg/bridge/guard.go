package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
)

// ErrAccessDenied is returned by a token-guarded engine when the accessor
// token is invalid, expired or issued for another tenant.
var ErrAccessDenied = errors.New("accessor token rejected")

// tokenGuard validates the accessor token before every host call.
type tokenGuard struct {
	key      []byte
	token    string
	tenantID int64
}

func (g *tokenGuard) check(tenantID int64) error {
	claims, err := ParseToken(g.key, g.token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if claims.TenantID != tenantID {
		return fmt.Errorf("%w: token of tenant %d used for tenant %d", ErrAccessDenied, claims.TenantID, tenantID)
	}
	return nil
}

// guardEngine wraps every port of e so that it checks g first.
func guardEngine(e host.Engine, g *tokenGuard) host.Engine {
	var out host.Engine
	if e.Commands != nil {
		out.Commands = &guardedCommands{next: e.Commands, guard: g}
	}
	if e.Dependencies != nil {
		out.Dependencies = &guardedDependencies{next: e.Dependencies, guard: g}
	}
	if e.Inventory != nil {
		out.Inventory = &guardedInventory{next: e.Inventory, guard: g}
	}
	if e.Lifecycle != nil {
		out.Lifecycle = &guardedLifecycle{next: e.Lifecycle, guard: g}
	}
	return out
}

type guardedCommands struct {
	next  host.CommandRegistry
	guard *tokenGuard
}

func (c *guardedCommands) ListAll(ctx context.Context) ([]host.RegisteredCommand, error) {
	if err := c.guard.check(c.guard.tenantID); err != nil {
		return nil, err
	}
	return c.next.ListAll(ctx)
}

func (c *guardedCommands) Register(ctx context.Context, name, description, mainClass string) (host.RegisteredCommand, error) {
	if err := c.guard.check(c.guard.tenantID); err != nil {
		return host.RegisteredCommand{}, err
	}
	return c.next.Register(ctx, name, description, mainClass)
}

func (c *guardedCommands) Unregister(ctx context.Context, id string) error {
	if err := c.guard.check(c.guard.tenantID); err != nil {
		return err
	}
	return c.next.Unregister(ctx, id)
}

// Execute checks the token against the tenant named in the envelope.
func (c *guardedCommands) Execute(ctx context.Context, id string, envelope params.Bag) (any, error) {
	if err := c.guard.check(envelope.Long(protocol.KeyTenantID, protocol.DefaultTenantID)); err != nil {
		return nil, err
	}
	return c.next.Execute(ctx, id, envelope)
}

type guardedDependencies struct {
	next  host.DependencyStore
	guard *tokenGuard
}

func (d *guardedDependencies) AddDependency(ctx context.Context, name string, body []byte) error {
	if err := d.guard.check(d.guard.tenantID); err != nil {
		return err
	}
	return d.next.AddDependency(ctx, name, body)
}

func (d *guardedDependencies) RemoveDependency(ctx context.Context, name string) error {
	if err := d.guard.check(d.guard.tenantID); err != nil {
		return err
	}
	return d.next.RemoveDependency(ctx, name)
}

type guardedInventory struct {
	next  host.DependencyInventory
	guard *tokenGuard
}

func (i *guardedInventory) FindDependencyNamesByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	if err := i.guard.check(i.guard.tenantID); err != nil {
		return nil, err
	}
	return i.next.FindDependencyNamesByPrefix(ctx, prefixes)
}

type guardedLifecycle struct {
	next  host.NodeLifecycle
	guard *tokenGuard
}

func (l *guardedLifecycle) Pause(ctx context.Context) error {
	if err := l.guard.check(l.guard.tenantID); err != nil {
		return err
	}
	return l.next.Pause(ctx)
}

func (l *guardedLifecycle) Resume(ctx context.Context) error {
	if err := l.guard.check(l.guard.tenantID); err != nil {
		return err
	}
	return l.next.Resume(ctx)
}
