package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/cmdkit/pkg/artifacts"
)

// Policy selects how a dependency is reconciled against the store.
type Policy int

const (
	// PolicySimple removes the dependency under its own name and uploads it again.
	PolicySimple Policy = iota
	// PolicyLastVersionCheck deploys under name-version only when no equal or
	// upper version is already present.
	PolicyLastVersionCheck
	// PolicyForceDeploy behaves like PolicySimple regardless of versions.
	PolicyForceDeploy
)

func (p Policy) String() string {
	switch p {
	case PolicySimple:
		return "simple"
	case PolicyLastVersionCheck:
		return "last-version-check"
	case PolicyForceDeploy:
		return "force"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by Policy.String. Empty means simple.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return PolicySimple, nil
	case "last-version-check", "lastversioncheck":
		return PolicyLastVersionCheck, nil
	case "force", "force-deploy", "forcedeploy":
		return PolicyForceDeploy, nil
	}
	return PolicySimple, fmt.Errorf("unknown dependency policy %q", s)
}

// DependencySpec is one auxiliary artifact uploaded with a command.
type DependencySpec struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	FileName string `json:"file" yaml:"file"`
	// ArtifactDirectory overrides the command's directory for this file.
	ArtifactDirectory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	Policy            Policy `json:"policy" yaml:"-"`
}

// Key is the name the dependency is stored under.
func (d DependencySpec) Key() string {
	if d.Policy == PolicyLastVersionCheck {
		return d.Name + "-" + d.Version
	}
	return d.Name
}

// Path resolves the artifact file, using defaultDir unless overridden.
func (d DependencySpec) Path(defaultDir string) string {
	dir := d.ArtifactDirectory
	if dir == "" {
		dir = defaultDir
	}
	return artifacts.Path(dir, d.FileName)
}

// Self is the dependency every command carries on the cmdkit runtime itself.
var Self = DependencySpec{
	Name:     "cmdkit",
	Version:  "2.1.3",
	FileName: "cmdkit-2.1.3.jar",
	Policy:   PolicyLastVersionCheck,
}

// CommandDescriptor describes one deployment of a command. It is built by the
// deployer before each attempt and not modified afterwards.
type CommandDescriptor struct {
	Name        string
	Description string
	MainClass   string
	// MainArtifact is the file holding the command itself, relative to
	// ArtifactDirectory/lib.
	MainArtifact      string
	MainVersion       string
	ArtifactDirectory string
	ForceDeploy       bool
	// TenantID scopes the verification calls; zero means the default tenant.
	TenantID int64
	// DependencyJars are plain file dependencies stored under their file name.
	DependencyJars []string
	Dependencies   []DependencySpec
}

var (
	ErrDescriptorNoName      = errors.New("command descriptor has no name")
	ErrDescriptorNoMainClass = errors.New("command descriptor has no main class")
	ErrDescriptorNoArtifact  = errors.New("command descriptor has no main artifact")
	// ErrDependencyNoVersion rejects a version-checked dependency without a
	// version, which could never be stored as name-version.
	ErrDependencyNoVersion = errors.New("last-version-check dependency has no version")
)

// Validate checks the mandatory fields.
func (c *CommandDescriptor) Validate() error {
	switch {
	case c == nil || c.Name == "":
		return ErrDescriptorNoName
	case c.MainClass == "":
		return ErrDescriptorNoMainClass
	case c.MainArtifact == "":
		return ErrDescriptorNoArtifact
	}
	for i, d := range c.Dependencies {
		if d.Name == "" || d.FileName == "" {
			return fmt.Errorf("dependency %d of %s needs a name and a file", i, c.Name)
		}
		if d.Policy == PolicyLastVersionCheck && d.Version == "" {
			return fmt.Errorf("%w: %s of %s", ErrDependencyNoVersion, d.Name, c.Name)
		}
	}
	return nil
}

// MainArtifactPath is where the command's own artifact is read from.
func (c *CommandDescriptor) MainArtifactPath() string {
	return artifacts.Path(c.ArtifactDirectory, c.MainArtifact)
}

// ResolvedDependencies returns the dependencies in deployment order: the
// command itself, the plain file dependencies, the declared ones, then Self
// unless a file already provides it.
func (c *CommandDescriptor) ResolvedDependencies() []DependencySpec {
	out := make([]DependencySpec, 0, len(c.DependencyJars)+len(c.Dependencies)+2)
	out = append(out, DependencySpec{
		Name:     c.Name,
		Version:  c.MainVersion,
		FileName: c.MainArtifact,
		Policy:   PolicySimple,
	})

	hasSelf := false
	for _, jar := range c.DependencyJars {
		if jar == Self.FileName {
			hasSelf = true
		}
		out = append(out, DependencySpec{Name: jar, FileName: jar, Policy: PolicySimple})
	}
	for _, d := range c.Dependencies {
		if strings.HasPrefix(d.FileName, Self.Name) {
			hasSelf = true
		}
		out = append(out, d)
	}
	if !hasSelf {
		out = append(out, Self)
	}
	return out
}
