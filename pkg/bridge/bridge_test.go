package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
)

type workerCommand struct {
	DetachedBase
	run      func(ctx context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error)
	finished chan struct{}
	calls    atomic.Int32
}

func (c *workerCommand) ExecuteDetached(ctx context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error) {
	c.calls.Add(1)
	if c.finished != nil {
		defer close(c.finished)
	}
	return c.run(ctx, p, api)
}

func params1(tenant int64) *protocol.ExecuteParameters {
	return protocol.ParseEnvelope(protocol.NewEnvelope("RUN", tenant, params.Bag{}.Set("x", "y")))
}

func TestRunDetachedWaitsForAnswer(t *testing.T) {
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1"},
		run: func(_ context.Context, p *protocol.ExecuteParameters, api APIAccessor) (*protocol.ExecuteAnswer, error) {
			a := protocol.OK()
			a.Result.Set("x", p.String("x", ""))
			a.Result.Set("tenant", api.TenantID())
			return a, nil
		},
	}
	b := New(StaticAccessorFactory{})

	answer := b.RunDetached(context.Background(), KindExecute, cmd, params1(7))

	assert.Equal(t, "y", answer.Result.String("x", ""))
	assert.Equal(t, int64(7), answer.Result.Long("tenant", 0))
}

func TestRunDetachedEscapesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var workerErr atomic.Value
	finished := make(chan struct{})
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1"},
		finished:     finished,
		run: func(ctx context.Context, _ *protocol.ExecuteParameters, _ APIAccessor) (*protocol.ExecuteAnswer, error) {
			cancel()
			if err := ctx.Err(); err != nil {
				workerErr.Store(err)
			}
			return protocol.OK(), nil
		},
	}
	b := New(StaticAccessorFactory{})

	b.RunDetached(ctx, KindExecute, cmd, params1(1))
	<-finished
	assert.Nil(t, workerErr.Load())
}

func TestRunDetachedFireAndForget(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1", FireAndForget: true},
		finished:     finished,
		run: func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
			<-release
			return protocol.OK(), nil
		},
	}
	b := New(StaticAccessorFactory{})

	answer := b.RunDetached(context.Background(), KindExecute, cmd, params1(1))
	assert.Empty(t, answer.Result)

	close(release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("detached worker never ran")
	}
	assert.Equal(t, int32(1), cmd.calls.Load())
}

func TestRunDetachedFailuresYieldEmptyAnswer(t *testing.T) {
	tests := map[string]func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error){
		"error": func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
			return protocol.OK(), errors.New("boom")
		},
		"panic": func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
			panic("boom")
		},
	}
	for name, run := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := &workerCommand{DetachedBase: DetachedBase{CommandName: "C1"}, run: run}
			answer := New(StaticAccessorFactory{}).RunDetached(context.Background(), KindExecute, cmd, params1(1))
			require.NotNil(t, answer)
			assert.Empty(t, answer.Result)
			assert.Empty(t, answer.Events)
		})
	}
}

type failingFactory struct{}

func (failingFactory) NewAccessor(context.Context, int64) (APIAccessor, error) {
	return nil, errors.New("no session")
}

func TestRunDetachedAccessorFailure(t *testing.T) {
	cmd := &workerCommand{DetachedBase: DetachedBase{CommandName: "C1"}}
	answer := New(failingFactory{}).RunDetached(context.Background(), KindExecute, cmd, params1(1))
	assert.Empty(t, answer.Result)
	assert.Zero(t, cmd.calls.Load())
}

func TestRunDetachedTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1"},
		run: func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
			<-release
			return protocol.OK(), nil
		},
	}
	b := New(StaticAccessorFactory{}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	answer := b.RunDetached(context.Background(), KindExecute, cmd, params1(1))
	assert.Empty(t, answer.Result)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDetachedAdmissionLimit(t *testing.T) {
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1", FireAndForget: true},
		run: func(context.Context, *protocol.ExecuteParameters, APIAccessor) (*protocol.ExecuteAnswer, error) {
			return protocol.OK(), nil
		},
	}
	b := New(StaticAccessorFactory{}, WithDetachedLimit(0.001, 1))

	first := b.RunDetached(context.Background(), KindExecute, cmd, params1(1))
	assert.Empty(t, first.Events)

	second := b.RunDetached(context.Background(), KindExecute, cmd, params1(1))
	require.Len(t, second.Events, 1)
	assert.True(t, second.Events[0].Same(EventDetachedRejected))
	assert.False(t, events.IsError(second.Events))
}

func TestAdaptThroughHandler(t *testing.T) {
	cmd := &workerCommand{
		DetachedBase: DetachedBase{CommandName: "C1"},
		run: func(_ context.Context, p *protocol.ExecuteParameters, _ APIAccessor) (*protocol.ExecuteAnswer, error) {
			a := protocol.NewAnswer()
			a.Result.Set("echo", p.String("x", ""))
			return a, nil
		},
	}
	h := protocol.NewHandler(Adapt(cmd, New(StaticAccessorFactory{})), protocol.WithGate(&protocol.FiredSet{}))

	out, ok := h.Invoke(context.Background(), protocol.NewEnvelope("RUN", 1, params.Bag{}.Set("x", "z"))).(params.Bag)
	require.True(t, ok)
	assert.Equal(t, "z", out.String("echo", ""))
	assert.Equal(t, protocol.StatusOK, out.String(protocol.KeyStatus, ""))

	out, ok = h.Invoke(context.Background(), protocol.NewEnvelope(protocol.VerbAfterDeployment, 1, nil)).(params.Bag)
	require.True(t, ok)
	assert.Equal(t, protocol.StatusOK, out.String(protocol.KeyStatus, ""))
}

func TestTokenAccessorFactory(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	engine := host.NewMemory().Engine()

	f, err := NewTokenAccessorFactory(key, time.Minute, engine)
	require.NoError(t, err)

	api, err := f.NewAccessor(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), api.TenantID())
	assert.NotNil(t, api.Engine().Commands)

	claims, err := ParseToken(key, api.Token())
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.TenantID)
	assert.Equal(t, "tenant:9", claims.Subject)

	_, err = ParseToken([]byte("another-key-another-key-another!"), api.Token())
	assert.Error(t, err)

	_, err = NewTokenAccessorFactory(nil, 0, engine)
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	f, err := NewTokenAccessorFactory(key, time.Minute, host.Engine{})
	require.NoError(t, err)
	f.now = func() time.Time { return time.Now().Add(-time.Hour) }

	api, err := f.NewAccessor(context.Background(), 1)
	require.NoError(t, err)
	_, err = ParseToken(key, api.Token())
	assert.Error(t, err)
}

func TestTokenAccessorEngineChecksToken(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	mem := host.NewMemory()
	mem.Seed("cmdkit-2.1.3", []byte("runtime"))
	ctx := context.Background()

	f, err := NewTokenAccessorFactory(key, time.Minute, mem.Engine())
	require.NoError(t, err)
	api, err := f.NewAccessor(ctx, 9)
	require.NoError(t, err)

	names, err := api.Engine().Inventory.FindDependencyNamesByPrefix(ctx, []string{"cmdkit"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cmdkit-2.1.3"}, names)

	// The envelope tenant must match the token tenant.
	_, err = api.Engine().Commands.Execute(ctx, "missing", protocol.NewEnvelope("RUN", 2, nil))
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = api.Engine().Commands.Execute(ctx, "missing", protocol.NewEnvelope("RUN", 9, nil))
	assert.ErrorIs(t, err, host.ErrCommandNotFound)
	require.NoError(t, api.Engine().Lifecycle.Pause(ctx))
	require.NoError(t, api.Engine().Lifecycle.Resume(ctx))

	f.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := f.NewAccessor(ctx, 9)
	require.NoError(t, err)
	_, err = expired.Engine().Inventory.FindDependencyNamesByPrefix(ctx, []string{"cmdkit"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, expired.Engine().Dependencies.AddDependency(ctx, "x", []byte("x")), ErrAccessDenied)
	assert.Equal(t, []string{"cmdkit-2.1.3"}, mem.DependencyNames())
}

func TestStaticAccessorEngineIsUnguarded(t *testing.T) {
	mem := host.NewMemory()
	api, err := StaticAccessorFactory{Engine: mem.Engine()}.NewAccessor(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, api.Token())
	assert.Same(t, mem, api.Engine().Inventory)
}
