// Package deploy deploys commands into a host engine exactly once per
// distinct artifact content. The signature of the main artifact is stored in
// the registered description; a command whose stored signature matches the
// artifact on disk is left alone.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/observability"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
	"github.com/Mindburn-Labs/cmdkit/pkg/signature"
)

// Orchestrator drives the deployment of one command name. Obtain it from a
// Registry so that a single instance exists per name.
type Orchestrator struct {
	name string
	// mu serializes deployments of this command inside the process.
	mu sync.Mutex

	signer   *signature.Computer
	recorder observability.Recorder
	locker   Locker
	sink     events.Sink
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithSigner(c *signature.Computer) Option {
	return func(o *Orchestrator) { o.signer = c }
}

func WithRecorder(r observability.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLocker adds cluster-wide exclusion around each deployment.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithSink receives the events of every attempt.
func WithSink(s events.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func newOrchestrator(name string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		name:     name,
		signer:   signature.New(signature.SHA256),
		recorder: observability.Nop{},
		logger:   slog.Default().With("component", "deploy"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("command", name)
	return o
}

// Name is the command name the orchestrator is bound to.
func (o *Orchestrator) Name() string { return o.name }

// Check compares the main artifact with the registered command without
// changing anything.
func (o *Orchestrator) Check(ctx context.Context, desc *CommandDescriptor, eng host.Engine) *DeployStatus {
	status := newStatus(o.name)
	if o.admit(desc, eng, status) {
		o.check(ctx, desc, eng, desc.ForceDeploy, status)
	}
	return status
}

// CheckAndDeploy deploys the command when its artifact differs from the
// registered one, then verifies the new deployment with an after-deployment
// call and a ping. Failures are reported as events on the returned status.
func (o *Orchestrator) CheckAndDeploy(ctx context.Context, desc *CommandDescriptor, eng host.Engine) *DeployStatus {
	return o.run(ctx, "deploy.check_and_deploy", desc, eng, false)
}

// Deploy redeploys the command unconditionally.
func (o *Orchestrator) Deploy(ctx context.Context, desc *CommandDescriptor, eng host.Engine) *DeployStatus {
	return o.run(ctx, "deploy.force", desc, eng, true)
}

func (o *Orchestrator) run(ctx context.Context, spanName string, desc *CommandDescriptor, eng host.Engine, force bool) *DeployStatus {
	start := time.Now()
	status := newStatus(o.name)
	ctx, end := o.recorder.StartSpan(ctx, spanName, observability.DeploymentAttrs(o.name, status.AttemptID, tenantOf(desc))...)

	if o.admit(desc, eng, status) {
		force = force || desc.ForceDeploy
		o.check(ctx, desc, eng, force, status)
		if !status.HasErrors() && !status.AlreadyDeployed {
			o.deploy(ctx, desc, eng, force, status)
		}
		if status.NewDeployment && !status.HasErrors() {
			o.verify(ctx, tenantOf(desc), eng, status)
		}
	}

	outcome := observability.OutcomeDeployed
	var spanErr error
	switch {
	case status.HasErrors():
		outcome = observability.OutcomeFailed
		spanErr = errors.New(events.SyntheticErrors(status.Events))
	case status.AlreadyDeployed && !status.NewDeployment:
		outcome = observability.OutcomeAlreadyDeployed
	}
	end(spanErr)
	o.recorder.RecordDeployment(ctx, o.name, outcome, time.Since(start))
	o.finish(ctx, status)
	o.logger.InfoContext(ctx, "deployment finished",
		"attempt", status.AttemptID,
		"outcome", outcome,
		"state", status.State.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return status
}

// admit rejects a descriptor or engine this orchestrator cannot work with.
func (o *Orchestrator) admit(desc *CommandDescriptor, eng host.Engine, status *DeployStatus) bool {
	err := desc.Validate()
	if err == nil && desc.Name != o.name {
		err = fmt.Errorf("descriptor %q given to the orchestrator of %q", desc.Name, o.name)
	}
	if err == nil {
		err = eng.Validate()
	}
	if err != nil {
		status.addEvent(EventErrorAtDeployment.WithErr(err, "command="+o.name))
		status.errorf("%v", err)
		return false
	}
	return true
}

// check fills the signatures and the registered command on status.
func (o *Orchestrator) check(ctx context.Context, desc *CommandDescriptor, eng host.Engine, force bool, status *DeployStatus) {
	status.SignatureJar = o.signer.ForFile(desc.MainArtifactPath())
	status.SignatureCommand = ""
	status.Command = nil
	status.AlreadyDeployed = false

	cmd, err := o.lookup(ctx, eng)
	if err != nil {
		status.addEvent(EventErrorAtDeployment.WithErr(err, "listing commands"))
		status.errorf("list commands: %v", err)
		return
	}
	status.State = StateChecked
	if cmd == nil {
		status.infof("command %s not registered", o.name)
		return
	}
	status.Command = cmd
	status.SignatureCommand = signature.Split(cmd.Description)
	status.AlreadyDeployed = !force && status.SignatureCommand == status.SignatureJar
	status.infof("command %s registered id=%s signature=%s artifact=%s",
		o.name, cmd.ID, status.SignatureCommand, status.SignatureJar)
}

func (o *Orchestrator) lookup(ctx context.Context, eng host.Engine) (*host.RegisteredCommand, error) {
	all, err := eng.Commands.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == o.name {
			return &all[i], nil
		}
	}
	return nil, nil
}

// deploy holds the command lock, re-checks, and replaces the command and its
// dependencies while the host node is paused.
func (o *Orchestrator) deploy(ctx context.Context, desc *CommandDescriptor, eng host.Engine, force bool, status *DeployStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "deployment panicked", "panic", r, "stack", string(debug.Stack()))
			status.addEvent(EventErrorAtDeployment.WithErr(fmt.Errorf("panic: %v", r), "command="+o.name))
		}
	}()

	if o.locker != nil {
		unlock, err := o.locker.Lock(ctx, o.name)
		if err != nil {
			status.addEvent(EventLockFailure.WithErr(err, "command="+o.name))
			status.errorf("lock: %v", err)
			return
		}
		defer unlock()
	}

	// 1. Another caller may have deployed while we waited.
	o.check(ctx, desc, eng, force, status)
	if status.HasErrors() {
		return
	}
	if status.AlreadyDeployed {
		status.infof("just deployed before")
		return
	}
	status.State = StateDeploying

	// 2. Drop the outdated command.
	if status.Command != nil {
		if err := eng.Commands.Unregister(ctx, status.Command.ID); err != nil && !errors.Is(err, host.ErrCommandNotFound) {
			status.addEvent(EventErrorAtDeployment.WithErr(err, "unregister id="+status.Command.ID))
			status.errorf("unregister %s: %v", status.Command.ID, err)
			return
		}
		status.infof("unregistered %s", status.Command.ID)
		status.Command = nil
	}

	// 3. No traffic while dependencies change.
	if eng.Lifecycle != nil {
		if err := eng.Lifecycle.Pause(ctx); err != nil {
			status.addEvent(EventErrorAtDeployment.WithErr(err, "pausing node"))
			status.errorf("pause: %v", err)
			return
		}
		defer func() {
			if err := eng.Lifecycle.Resume(ctx); err != nil {
				status.addEvent(EventErrorAtDeployment.WithErr(err, "resuming node"))
				status.errorf("resume: %v", err)
			}
		}()
	}

	// 4. Dependencies, the command artifact included.
	resolver := &Resolver{Store: eng.Dependencies, Inventory: eng.Inventory, Logger: o.logger}
	resolver.Resolve(ctx, desc.ResolvedDependencies(), desc.ArtifactDirectory, status)
	if status.HasErrors() {
		status.errorf("command %s not registered, dependencies failed", o.name)
		return
	}

	// 5. Register under "<signature>#<description>".
	cmd, err := eng.Commands.Register(ctx, o.name, signature.Join(status.SignatureJar, desc.Description), desc.MainClass)
	if err != nil {
		status.addEvent(EventErrorAtDeployment.WithErr(err, "register command="+o.name))
		status.errorf("register: %v", err)
		return
	}
	status.Command = &cmd
	status.NewDeployment = true
	status.State = StateRegistered
	status.addEvent(EventDeployedWithSuccess.With("command=" + o.name + " id=" + cmd.ID))
	status.infof("registered %s id=%s", o.name, cmd.ID)
}

// verify sends the after-deployment hook and a ping to a fresh deployment.
// A failed ping is reported without rolling the deployment back.
func (o *Orchestrator) verify(ctx context.Context, tenantID int64, eng host.Engine, status *DeployStatus) {
	if _, list := o.call(ctx, protocol.VerbAfterDeployment, nil, tenantID, eng); len(list) > 0 {
		status.addEvent(list...)
		if events.IsError(list) {
			return
		}
	}

	answer, list := o.call(ctx, protocol.VerbPing, nil, tenantID, eng)
	got := answer.String(protocol.KeyPing, "")
	if len(list) > 0 || answer.String(protocol.KeyStatus, "") != protocol.StatusOK || got != protocol.PingReply {
		status.addEvent(list...)
		status.addEvent(EventPingFailure.With(fmt.Sprintf("status=%s ping=%q", answer.String(protocol.KeyStatus, ""), got)))
		status.errorf("ping failed")
		return
	}
	status.State = StateVerified
	status.infof("ping ok")
}

// Undeploy unregisters the command and removes its own dependency.
func (o *Orchestrator) Undeploy(ctx context.Context, desc *CommandDescriptor, eng host.Engine) *DeployStatus {
	start := time.Now()
	status := newStatus(o.name)
	if !o.admit(desc, eng, status) {
		o.finish(ctx, status)
		return status
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cmd, err := o.lookup(ctx, eng)
	switch {
	case err != nil:
		status.addEvent(EventErrorAtUndeployment.WithErr(err, "listing commands"))
	case cmd == nil:
		status.infof("command %s not registered", o.name)
	default:
		if err := eng.Commands.Unregister(ctx, cmd.ID); err != nil && !errors.Is(err, host.ErrCommandNotFound) {
			status.addEvent(EventErrorAtUndeployment.WithErr(err, "unregister id="+cmd.ID))
		} else {
			status.infof("unregistered %s", cmd.ID)
		}
	}
	if err := eng.Dependencies.RemoveDependency(ctx, o.name); err != nil && !errors.Is(err, host.ErrDependencyNotFound) {
		status.addEvent(EventErrorAtUndeployment.WithErr(err, "remove dependency="+o.name))
	}

	outcome := observability.OutcomeUndeployed
	if status.HasErrors() {
		outcome = observability.OutcomeFailed
	}
	o.recorder.RecordDeployment(ctx, o.name, outcome, time.Since(start))
	o.finish(ctx, status)
	return status
}

// Call invokes the deployed command with verb. The answer bag carries the
// rendered events under listevents when the call itself failed.
func (o *Orchestrator) Call(ctx context.Context, verb string, cmdParams params.Bag, tenantID int64, eng host.Engine) params.Bag {
	answer, list := o.call(ctx, verb, cmdParams, tenantID, eng)
	if len(list) > 0 {
		answer.Set(protocol.KeyListEvents, events.HTML(list))
	}
	return answer
}

// CallDirect passes a complete envelope to the command untouched.
func (o *Orchestrator) CallDirect(ctx context.Context, envelope params.Bag, eng host.Engine) params.Bag {
	answer, list := o.execute(ctx, envelope, eng)
	if len(list) > 0 {
		answer.Set(protocol.KeyListEvents, events.HTML(list))
	}
	return answer
}

// Ping sends the liveness verb.
func (o *Orchestrator) Ping(ctx context.Context, tenantID int64, eng host.Engine) params.Bag {
	return o.Call(ctx, protocol.VerbPing, nil, tenantID, eng)
}

// AfterDeployment sends the after-deployment verb.
func (o *Orchestrator) AfterDeployment(ctx context.Context, tenantID int64, eng host.Engine) params.Bag {
	return o.Call(ctx, protocol.VerbAfterDeployment, nil, tenantID, eng)
}

func (o *Orchestrator) call(ctx context.Context, verb string, cmdParams params.Bag, tenantID int64, eng host.Engine) (params.Bag, []events.Event) {
	if tenantID == 0 {
		tenantID = protocol.DefaultTenantID
	}
	return o.execute(ctx, protocol.NewEnvelope(verb, tenantID, cmdParams), eng)
}

func (o *Orchestrator) execute(ctx context.Context, envelope params.Bag, eng host.Engine) (params.Bag, []events.Event) {
	answer := params.Bag{}
	if eng.Commands == nil {
		return answer, []events.Event{EventCallCommand.With("host engine has no command registry")}
	}
	cmd, err := o.lookup(ctx, eng)
	if err != nil {
		return answer, []events.Event{EventCallCommand.WithErr(err, "listing commands")}
	}
	if cmd == nil {
		return answer, []events.Event{EventNotDeployed.With("command=" + o.name)}
	}

	out, err := eng.Commands.Execute(ctx, cmd.ID, envelope)
	if err != nil {
		o.logger.ErrorContext(ctx, "command call failed", "verb", envelope.String(protocol.KeyVerb, ""), "error", err)
		return answer, []events.Event{EventCallCommand.WithErr(err, "command="+o.name)}
	}
	switch v := out.(type) {
	case params.Bag:
		if v != nil {
			answer = v
		}
	case map[string]any:
		answer = params.FromMap(v)
	default:
		return answer, []events.Event{EventCallCommand.With(fmt.Sprintf("command=%s unexpected answer type %T", o.name, out))}
	}
	return answer, nil
}

func (o *Orchestrator) finish(ctx context.Context, status *DeployStatus) {
	status.flush(ctx, o.logger)
	if o.sink != nil && len(status.Events) > 0 {
		o.sink.Record(ctx, status.Events)
	}
}

func tenantOf(desc *CommandDescriptor) int64 {
	if desc == nil || desc.TenantID == 0 {
		return protocol.DefaultTenantID
	}
	return desc.TenantID
}

// Registry holds one Orchestrator per command name.
type Registry struct {
	orchestrators sync.Map
	opts          []Option
}

// NewRegistry returns a registry whose orchestrators are built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{opts: opts}
}

// Get returns the orchestrator of name, creating it on first use.
func (r *Registry) Get(name string) *Orchestrator {
	if v, ok := r.orchestrators.Load(name); ok {
		return v.(*Orchestrator)
	}
	v, _ := r.orchestrators.LoadOrStore(name, newOrchestrator(name, r.opts...))
	return v.(*Orchestrator)
}

var defaultRegistry = NewRegistry()

// ForCommand returns the process-wide orchestrator of name.
func ForCommand(name string) *Orchestrator {
	return defaultRegistry.Get(name)
}
