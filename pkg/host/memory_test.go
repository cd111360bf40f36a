package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

func TestMemoryCommandLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Bind("examples.Echo", func(name string) Invoker {
		return InvokerFunc(func(_ context.Context, envelope params.Bag) any {
			return params.Bag{}.Set("name", name).Set("verb", envelope.String("verb", ""))
		})
	})

	cmd, err := m.Register(ctx, "C1", "sig#demo", "examples.Echo")
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)

	_, err = m.Register(ctx, "C1", "sig#demo", "examples.Echo")
	assert.ErrorIs(t, err, ErrCommandAlreadyExists)

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "sig#demo", all[0].Description)

	answer, err := m.Execute(ctx, cmd.ID, params.Bag{}.Set("verb", "GO"))
	require.NoError(t, err)
	bag, ok := answer.(params.Bag)
	require.True(t, ok)
	assert.Equal(t, "C1", bag.String("name", ""))
	assert.Equal(t, "GO", bag.String("verb", ""))

	require.NoError(t, m.Unregister(ctx, cmd.ID))
	assert.ErrorIs(t, m.Unregister(ctx, cmd.ID), ErrCommandNotFound)

	_, err = m.Execute(ctx, cmd.ID, nil)
	assert.ErrorIs(t, err, ErrCommandNotFound)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Registers)
	assert.Equal(t, 1, stats.Unregisters)
}

func TestMemoryExecuteUnbound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cmd, err := m.Register(ctx, "C1", "", "missing.Class")
	require.NoError(t, err)

	_, err = m.Execute(ctx, cmd.ID, nil)
	assert.ErrorIs(t, err, ErrCommandNotBound)
}

func TestMemoryDependencies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AddDependency(ctx, "foo-1.0", []byte("a")))
	require.NoError(t, m.AddDependency(ctx, "foo-1.2", []byte("b")))
	require.NoError(t, m.AddDependency(ctx, "bar", []byte("c")))
	assert.ErrorIs(t, m.AddDependency(ctx, "bar", []byte("c")), ErrDependencyAlreadyExists)

	names, err := m.FindDependencyNamesByPrefix(ctx, []string{"foo", "baz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo-1.0", "foo-1.2"}, names)

	require.NoError(t, m.RemoveDependency(ctx, "foo-1.0"))
	assert.ErrorIs(t, m.RemoveDependency(ctx, "foo-1.0"), ErrDependencyNotFound)
	assert.Equal(t, []string{"bar", "foo-1.2"}, m.DependencyNames())

	body, ok := m.Dependency("bar")
	require.True(t, ok)
	assert.Equal(t, []byte("c"), body)
}

func TestMemoryLifecycleAndFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Pause(ctx))
	assert.True(t, m.Paused())
	require.NoError(t, m.Resume(ctx))
	assert.False(t, m.Paused())

	boom := errors.New("boom")
	m.Fail(OpInventory, boom)
	_, err := m.FindDependencyNamesByPrefix(ctx, []string{"x"})
	assert.ErrorIs(t, err, boom)

	m.Fail(OpInventory, nil)
	_, err = m.FindDependencyNamesByPrefix(ctx, []string{"x"})
	assert.NoError(t, err)
}

func TestEngineValidate(t *testing.T) {
	assert.NoError(t, NewMemory().Engine().Validate())
	assert.Error(t, Engine{}.Validate())
	assert.Error(t, Engine{Commands: NewMemory()}.Validate())
}
