package deploy

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/cmdkit/pkg/artifacts"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/versioning"
)

// Resolver reconciles a dependency list with the host dependency store.
type Resolver struct {
	Store     host.DependencyStore
	Inventory host.DependencyInventory
	Logger    *slog.Logger
}

// Resolve deploys deps in order, reading artifacts relative to defaultDir.
// Failures are recorded on status and never stop the remaining dependencies.
func (r *Resolver) Resolve(ctx context.Context, deps []DependencySpec, defaultDir string, status *DeployStatus) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("component", "resolver")
	}

	existing := r.inventory(ctx, deps, status)

	for _, dep := range deps {
		outcome := Outcome{Name: dep.Name, Key: dep.Key()}

		if dep.Policy == PolicyLastVersionCheck {
			if r.keepExisting(ctx, dep, existing, status) {
				outcome.Action = ActionKept
				status.Outcomes = append(status.Outcomes, outcome)
				status.infof("dependency %s kept, equal or upper version present", dep.Name)
				continue
			}
		} else {
			r.purge(ctx, dep, existing, status)
		}

		if r.upload(ctx, dep, defaultDir, status) {
			outcome.Action = ActionDeployed
			existing.add(outcome.Key)
			logger.DebugContext(ctx, "dependency deployed", "dependency", outcome.Key, "policy", dep.Policy.String())
		} else {
			outcome.Action = ActionFailed
		}
		status.Outcomes = append(status.Outcomes, outcome)
	}
}

// inventory queries the store once for the names of the version-checked
// dependencies. Other policies replace by exact name and never consult it.
// An unavailable inventory is a warning: deployment continues as if nothing
// existed.
func (r *Resolver) inventory(ctx context.Context, deps []DependencySpec, status *DeployStatus) *nameSet {
	set := &nameSet{}
	if r.Inventory == nil {
		return set
	}
	var prefixes []string
	for _, d := range deps {
		if d.Policy == PolicyLastVersionCheck {
			prefixes = append(prefixes, d.Name)
		}
	}
	if len(prefixes) == 0 {
		return set
	}
	names, err := r.Inventory.FindDependencyNamesByPrefix(ctx, prefixes)
	if err != nil {
		status.addEvent(EventDatasourceUnavailable.WithErr(err, "prefixes="+strings.Join(prefixes, ",")))
		status.errorf("inventory unavailable: %v", err)
		return set
	}
	for _, n := range names {
		set.add(n)
	}
	status.infof("inventory %s", strings.Join(set.sorted(), ","))
	return set
}

// keepExisting scans every inventoried entry sharing the dependency prefix.
// Strictly lower entries are removed; an equal or upper entry keeps the
// existing dependency in place of the candidate.
func (r *Resolver) keepExisting(ctx context.Context, dep DependencySpec, existing *nameSet, status *DeployStatus) bool {
	keep := false
	for _, name := range existing.sorted() {
		if !strings.HasPrefix(name, dep.Name) {
			continue
		}
		version := name
		if i := strings.LastIndex(name, "-"); i >= 0 {
			version = name[i+1:]
		}
		if versioning.IsUpper(dep.Version, version) {
			status.infof("remove lower dependency %s for %s", name, dep.Key())
			r.remove(ctx, name, existing, status)
			continue
		}
		status.infof("dependency %s is equal or upper than %s", name, dep.Key())
		keep = true
	}
	return keep
}

// purge removes the dependency under its plain and versioned names only.
// Entries that merely share the prefix belong to other dependencies.
func (r *Resolver) purge(ctx context.Context, dep DependencySpec, existing *nameSet, status *DeployStatus) {
	r.remove(ctx, dep.Name, existing, status)
	if dep.Version != "" {
		r.remove(ctx, dep.Name+"-"+dep.Version, existing, status)
	}
}

func (r *Resolver) remove(ctx context.Context, name string, existing *nameSet, status *DeployStatus) {
	err := r.Store.RemoveDependency(ctx, name)
	switch {
	case err == nil:
		status.infof("removed %s", name)
	case errors.Is(err, host.ErrDependencyNotFound):
	default:
		status.errorf("remove %s: %v", name, err)
	}
	existing.remove(name)
}

func (r *Resolver) upload(ctx context.Context, dep DependencySpec, defaultDir string, status *DeployStatus) bool {
	path := dep.Path(defaultDir)
	body, err := artifacts.Read(path)
	if err != nil {
		status.addEvent(EventMissingDependency.WithErr(err, "dependency="+dep.Name+" file="+path))
		status.errorf("read %s: %v", path, err)
		return false
	}
	if err := r.Store.AddDependency(ctx, dep.Key(), body); err != nil {
		params := "dependency=" + dep.Key()
		if errors.Is(err, host.ErrDependencyAlreadyExists) {
			params += " already exists"
		}
		status.addEvent(EventDeployDependency.WithErr(err, params))
		status.errorf("add %s: %v", dep.Key(), err)
		return false
	}
	status.infof("deployed %s (%d bytes)", dep.Key(), len(body))
	return true
}

// nameSet is the attempt-local view of the inventory, updated as the
// resolver removes and uploads dependencies.
type nameSet struct {
	names map[string]struct{}
}

func (s *nameSet) add(name string) {
	if s.names == nil {
		s.names = make(map[string]struct{})
	}
	s.names[name] = struct{}{}
}

func (s *nameSet) remove(name string) {
	delete(s.names, name)
}

func (s *nameSet) sorted() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
