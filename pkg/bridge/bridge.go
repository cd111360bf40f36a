// Package bridge runs command hooks on a detached worker so they execute
// outside the caller's transactional context. The worker obtains its own
// tenant-scoped accessor; the caller either waits for the answer or returns
// immediately.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
)

// DefaultTimeout bounds how long a waiting caller blocks on a worker.
const DefaultTimeout = 5 * time.Minute

// Kind names the hook a detached run invokes.
type Kind int

const (
	KindExecute Kind = iota
	KindAfterDeployment
	KindAfterRestart
)

func (k Kind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindAfterDeployment:
		return "after_deployment"
	case KindAfterRestart:
		return "after_restart"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EventDetachedRejected is attached when the fire-and-forget admission
// limit drops a run.
var EventDetachedRejected = events.Event{
	Package: "bridge",
	Code:    1,
	Level:   events.LevelWarning,
	Title:   "Detached run rejected",
	Cause:   "Too many fire-and-forget runs were started",
	Action:  "Retry later or raise BRIDGE_DETACHED_RPS",
}

// Bridge starts detached workers.
type Bridge struct {
	accessors AccessorFactory
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

type Option func(*Bridge)

// WithTimeout sets how long a waiting caller blocks before giving up with an
// empty answer.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithDetachedLimit caps fire-and-forget starts per second; zero disables it.
func WithDetachedLimit(rps float64, burst int) Option {
	return func(b *Bridge) {
		if rps <= 0 {
			b.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New returns a bridge whose workers obtain accessors from accessors.
func New(accessors AccessorFactory, opts ...Option) *Bridge {
	b := &Bridge{
		accessors: accessors,
		timeout:   DefaultTimeout,
		logger:    slog.Default().With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RunDetached runs the kind hook of cmd on a fresh goroutine. When the
// command waits for answers the caller blocks until the worker replies, the
// timeout elapses or ctx is done; otherwise it returns an empty answer at
// once. Worker failures are logged and surface as an empty answer.
func (b *Bridge) RunDetached(ctx context.Context, kind Kind, cmd DetachedCommand, p *protocol.ExecuteParameters) *protocol.ExecuteAnswer {
	wait := cmd.WaitAnswer()
	logger := b.logger.With("command", cmd.Name(), "kind", kind.String(), "tenant", p.TenantID)

	if !wait && b.limiter != nil && !b.limiter.Allow() {
		logger.WarnContext(ctx, "detached run rejected by admission limit")
		answer := protocol.NewAnswer()
		answer.AddEvent(EventDetachedRejected.With("command=" + cmd.Name()))
		return answer
	}

	// The worker must not inherit the caller's cancellation.
	workerCtx := context.WithoutCancel(ctx)
	done := make(chan *protocol.ExecuteAnswer, 1)
	go b.work(workerCtx, logger, kind, cmd, p, done)

	if !wait {
		logger.DebugContext(ctx, "detached run started without waiting")
		return protocol.NewAnswer()
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case answer := <-done:
		if answer == nil {
			return protocol.NewAnswer()
		}
		return answer
	case <-timer.C:
		logger.WarnContext(ctx, "detached run timed out", "timeout", b.timeout)
		return protocol.NewAnswer()
	case <-ctx.Done():
		logger.WarnContext(ctx, "caller gave up waiting for detached run", "error", ctx.Err())
		return protocol.NewAnswer()
	}
}

func (b *Bridge) work(ctx context.Context, logger *slog.Logger, kind Kind, cmd DetachedCommand, p *protocol.ExecuteParameters, done chan<- *protocol.ExecuteAnswer) {
	var answer *protocol.ExecuteAnswer
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "detached run panicked", "panic", r, "stack", string(debug.Stack()))
			answer = nil
		}
		done <- answer
	}()

	api, err := b.accessors.NewAccessor(ctx, p.TenantID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to obtain api accessor", "error", err)
		return
	}

	start := time.Now()
	switch kind {
	case KindAfterDeployment:
		answer, err = cmd.AfterDeploymentDetached(ctx, p, api)
	case KindAfterRestart:
		answer, err = cmd.AfterRestartDetached(ctx, p, api)
	default:
		answer, err = cmd.ExecuteDetached(ctx, p, api)
	}
	if err != nil {
		logger.ErrorContext(ctx, "detached run failed", "error", err)
		answer = nil
		return
	}
	logger.DebugContext(ctx, "detached run finished", "duration_ms", time.Since(start).Milliseconds())
}
