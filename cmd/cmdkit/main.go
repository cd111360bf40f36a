package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/cmdkit/pkg/config"
	"github.com/Mindburn-Labs/cmdkit/pkg/deploy"
	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "deploy":
		return runDeployCmd(args[2:], stdout, stderr)
	case "undeploy":
		return runUndeployCmd(args[2:], stdout, stderr)
	case "ping":
		return runCallCmd(append([]string{"-verb", protocol.VerbPing}, args[2:]...), stdout, stderr)
	case "call":
		return runCallCmd(args[2:], stdout, stderr)
	case "deps":
		return runDepsCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "cmdkit - deploy commands into a host engine once per artifact content")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  cmdkit deploy   -manifest <file> [-force]    Deploy a command when its artifact changed")
	_, _ = fmt.Fprintln(w, "  cmdkit undeploy -manifest <file>             Unregister a command and its artifact")
	_, _ = fmt.Fprintln(w, "  cmdkit ping     -name <command> [-tenant n]  Check a deployed command answers")
	_, _ = fmt.Fprintln(w, "  cmdkit call     -name <command> -verb <verb> [-params json] [-tenant n]")
	_, _ = fmt.Fprintln(w, "  cmdkit deps     -prefix <name>[,<name>...]   List stored dependencies")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Configuration is read from the environment (DATABASE_URL, DATA_DIR, LOG_LEVEL, ...).")
}

func setupLogging(cfg *config.Config, stderr io.Writer) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(stderr, opts)
	} else {
		handler = slog.NewTextHandler(stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDeployCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("deploy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		manifestPath string
		force        bool
		jsonOutput   bool
	)
	cmd.StringVar(&manifestPath, "manifest", "", "Deployment manifest (YAML) (REQUIRED)")
	cmd.BoolVar(&force, "force", false, "Redeploy even when the artifact is unchanged")
	cmd.BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -manifest is required")
		return 2
	}

	desc, err := loadDescriptor(manifestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, code := openRuntime(ctx, stderr)
	if rt == nil {
		return code
	}
	defer rt.Close(ctx)

	o := rt.registry.Get(desc.Name)
	var status *deploy.DeployStatus
	if force {
		status = o.Deploy(ctx, desc, rt.engine)
	} else {
		status = o.CheckAndDeploy(ctx, desc, rt.engine)
	}
	return printStatus(status, jsonOutput, stdout)
}

func runUndeployCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("undeploy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var manifestPath string
	cmd.StringVar(&manifestPath, "manifest", "", "Deployment manifest (YAML) (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -manifest is required")
		return 2
	}
	desc, err := loadDescriptor(manifestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, code := openRuntime(ctx, stderr)
	if rt == nil {
		return code
	}
	defer rt.Close(ctx)

	return printStatus(rt.registry.Get(desc.Name).Undeploy(ctx, desc, rt.engine), false, stdout)
}

func runCallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("call", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		name     string
		verb     string
		rawParam string
		tenantID int64
	)
	cmd.StringVar(&name, "name", "", "Command name (REQUIRED)")
	cmd.StringVar(&verb, "verb", "", "Verb to send")
	cmd.StringVar(&rawParam, "params", "", "Command parameters as a JSON object")
	cmd.Int64Var(&tenantID, "tenant", protocol.DefaultTenantID, "Tenant id")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -name is required")
		return 2
	}
	var cmdParams params.Bag
	if rawParam != "" {
		var err error
		if cmdParams, err = params.ParseJSON([]byte(rawParam)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid -params: %v\n", err)
			return 2
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, code := openRuntime(ctx, stderr)
	if rt == nil {
		return code
	}
	defer rt.Close(ctx)

	answer := rt.registry.Get(name).Call(ctx, verb, cmdParams, tenantID, rt.engine)
	data, err := json.MarshalIndent(answer, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	if answer.String(protocol.KeyStatus, "") != protocol.StatusOK {
		return 1
	}
	return 0
}

func runDepsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("deps", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var prefix string
	cmd.StringVar(&prefix, "prefix", "", "Comma-separated name prefixes; empty lists everything")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, code := openRuntime(ctx, stderr)
	if rt == nil {
		return code
	}
	defer rt.Close(ctx)

	names, err := rt.engine.Inventory.FindDependencyNamesByPrefix(ctx, splitList(prefix))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, n := range names {
		_, _ = fmt.Fprintln(stdout, n)
	}
	return 0
}

func loadDescriptor(path string) (*deploy.CommandDescriptor, error) {
	m, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return m.Descriptor()
}

type statusReport struct {
	AttemptID        string           `json:"attempt_id"`
	Command          string           `json:"command"`
	State            string           `json:"state"`
	AlreadyDeployed  bool             `json:"already_deployed"`
	NewDeployment    bool             `json:"new_deployment"`
	SignatureJar     string           `json:"signature_jar,omitempty"`
	SignatureCommand string           `json:"signature_command,omitempty"`
	Dependencies     []deploy.Outcome `json:"dependencies,omitempty"`
	Events           []string         `json:"events,omitempty"`
	Failed           bool             `json:"failed"`
}

func printStatus(status *deploy.DeployStatus, jsonOutput bool, stdout io.Writer) int {
	report := statusReport{
		AttemptID:        status.AttemptID,
		Command:          status.CommandName,
		State:            status.State.String(),
		AlreadyDeployed:  status.AlreadyDeployed,
		NewDeployment:    status.NewDeployment,
		SignatureJar:     status.SignatureJar,
		SignatureCommand: status.SignatureCommand,
		Dependencies:     status.Outcomes,
		Failed:           status.HasErrors(),
	}
	for _, e := range status.Events {
		report.Events = append(report.Events, e.String())
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		switch {
		case report.Failed:
			_, _ = fmt.Fprintf(stdout, "FAILED   %s (%s)\n", report.Command, report.State)
		case report.NewDeployment:
			_, _ = fmt.Fprintf(stdout, "DEPLOYED %s signature=%s\n", report.Command, report.SignatureJar)
		case report.AlreadyDeployed:
			_, _ = fmt.Fprintf(stdout, "UP TO DATE %s signature=%s\n", report.Command, report.SignatureJar)
		default:
			_, _ = fmt.Fprintf(stdout, "DONE     %s (%s)\n", report.Command, report.State)
		}
		for _, d := range report.Dependencies {
			_, _ = fmt.Fprintf(stdout, "  %-8s %s\n", d.Action, d.Key)
		}
		if len(status.Events) > 0 {
			_, _ = fmt.Fprintln(stdout, "  "+events.Synthetic(status.Events))
		}
	}
	if report.Failed {
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if out == nil {
		// An empty prefix matches every name.
		out = []string{""}
	}
	return out
}
