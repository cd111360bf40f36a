package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
)

func resolverFixture(t *testing.T, files map[string]string) (string, *host.Memory, *Resolver) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", name), []byte(content), 0o600))
	}
	mem := host.NewMemory()
	return dir, mem, &Resolver{Store: mem, Inventory: mem}
}

func TestLastVersionCheckKeepsUpperVersion(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"foo-1.1.jar": "foo 1.1"})
	mem.Seed("foo-1.0", []byte("foo 1.0"))
	mem.Seed("foo-1.2", []byte("foo 1.2"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "foo", Version: "1.1", FileName: "foo-1.1.jar", Policy: PolicyLastVersionCheck},
	}, dir, status)

	assert.False(t, status.HasErrors())
	assert.Equal(t, []Outcome{{Name: "foo", Key: "foo-1.1", Action: ActionKept}}, status.Outcomes)
	names := mem.DependencyNames()
	assert.Contains(t, names, "foo-1.2")
	assert.NotContains(t, names, "foo-1.1")
	assert.Zero(t, mem.Stats().Adds)
}

func TestLastVersionCheckReplacesLowerVersions(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"foo-1.1.jar": "foo 1.1"})
	mem.Seed("foo-0.9", []byte("foo 0.9"))
	mem.Seed("foo-1.0", []byte("foo 1.0"))
	mem.Seed("bar-5.0", []byte("bar"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "foo", Version: "1.1", FileName: "foo-1.1.jar", Policy: PolicyLastVersionCheck},
	}, dir, status)

	assert.False(t, status.HasErrors())
	assert.Equal(t, []string{"bar-5.0", "foo-1.1"}, mem.DependencyNames())
	assert.Equal(t, 2, mem.Stats().Removes)
	body, _ := mem.Dependency("foo-1.1")
	assert.Equal(t, "foo 1.1", string(body))
}

func TestLastVersionCheckEqualVersionIsKept(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"foo.jar": "new"})
	mem.Seed("foo-1.1.0", []byte("old"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "foo", Version: "1.1", FileName: "foo.jar", Policy: PolicyLastVersionCheck},
	}, dir, status)

	body, _ := mem.Dependency("foo-1.1.0")
	assert.Equal(t, "old", string(body))
	assert.Equal(t, ActionKept, status.Outcomes[0].Action)
}

func TestPrefixMatchIsTextual(t *testing.T) {
	// "foobar-2.0" shares the "foo" prefix and its version wins.
	dir, mem, r := resolverFixture(t, map[string]string{"foo.jar": "foo"})
	mem.Seed("foobar-2.0", []byte("foobar"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "foo", Version: "1.0", FileName: "foo.jar", Policy: PolicyLastVersionCheck},
	}, dir, status)

	assert.Equal(t, ActionKept, status.Outcomes[0].Action)
	assert.Equal(t, []string{"foobar-2.0"}, mem.DependencyNames())
}

func TestMalformedExistingVersionIsReplaced(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"foo.jar": "foo"})
	mem.Seed("foo-snapshot", []byte("old"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "foo", Version: "1.0", FileName: "foo.jar", Policy: PolicyLastVersionCheck},
	}, dir, status)

	assert.Equal(t, []string{"foo-1.0"}, mem.DependencyNames())
}

func TestSimplePolicyReplacesUnderOwnName(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"lib.jar": "new"})
	mem.Seed("lib", []byte("old"))
	status := newStatus("C1")

	for _, policy := range []Policy{PolicySimple, PolicyForceDeploy} {
		r.Resolve(context.Background(), []DependencySpec{
			{Name: "lib", Version: "3.0", FileName: "lib.jar", Policy: policy},
		}, dir, status)
	}

	assert.False(t, status.HasErrors())
	assert.Equal(t, []string{"lib"}, mem.DependencyNames())
	body, _ := mem.Dependency("lib")
	assert.Equal(t, "new", string(body))
}

func TestSimplePolicyKeepsPrefixSharingSiblings(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"report.jar": "new"})
	mem.Seed("report", []byte("old"))
	mem.Seed("reportAdmin", []byte("admin"))
	mem.Seed("report-2.0", []byte("versioned"))
	status := newStatus("C1")

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "report", Version: "2.0", FileName: "report.jar", Policy: PolicySimple},
	}, dir, status)

	assert.False(t, status.HasErrors())
	assert.Equal(t, []string{"report", "reportAdmin"}, mem.DependencyNames())
	body, _ := mem.Dependency("reportAdmin")
	assert.Equal(t, "admin", string(body))
}

func TestUploadFailuresDoNotStopBatch(t *testing.T) {
	dir, mem, r := resolverFixture(t, map[string]string{"a.jar": "a", "c.jar": "c"})
	status := newStatus("C1")
	r.Store = rejecting{Memory: mem, name: "a"}

	r.Resolve(context.Background(), []DependencySpec{
		{Name: "a", FileName: "a.jar"},
		{Name: "b", FileName: "missing.jar"},
		{Name: "c", FileName: "c.jar"},
	}, dir, status)

	assert.True(t, events.Contains(status.Events, EventDeployDependency))
	assert.True(t, events.Contains(status.Events, EventMissingDependency))
	assert.Equal(t, []string{"c"}, mem.DependencyNames())
	assert.Equal(t, []Action{ActionFailed, ActionFailed, ActionDeployed},
		[]Action{status.Outcomes[0].Action, status.Outcomes[1].Action, status.Outcomes[2].Action})
}

type rejecting struct {
	*host.Memory
	name string
}

func (r rejecting) AddDependency(ctx context.Context, name string, body []byte) error {
	if name == r.name {
		return errors.Join(host.ErrDependencyAlreadyExists, errors.New(name))
	}
	return r.Memory.AddDependency(ctx, name, body)
}

func TestResolvedDependencies(t *testing.T) {
	desc := &CommandDescriptor{
		Name:           "C1",
		MainClass:      "M",
		MainArtifact:   "c1.jar",
		MainVersion:    "1.0",
		DependencyJars: []string{"json.jar"},
		Dependencies: []DependencySpec{
			{Name: "foo", Version: "1.1", FileName: "foo-1.1.jar", Policy: PolicyLastVersionCheck},
		},
	}

	deps := desc.ResolvedDependencies()
	require.Len(t, deps, 4)
	assert.Equal(t, "C1", deps[0].Key())
	assert.Equal(t, "c1.jar", deps[0].FileName)
	assert.Equal(t, "json.jar", deps[1].Key())
	assert.Equal(t, "foo-1.1", deps[2].Key())
	assert.Equal(t, Self, deps[3])

	desc.DependencyJars = append(desc.DependencyJars, Self.FileName)
	deps = desc.ResolvedDependencies()
	require.Len(t, deps, 4)
	assert.Equal(t, Self.FileName, deps[2].FileName)
	assert.Equal(t, PolicySimple, deps[2].Policy)
	assert.Equal(t, "foo-1.1", deps[3].Key())
}

func TestLastVersionCheckNeedsVersion(t *testing.T) {
	desc := &CommandDescriptor{
		Name:         "C1",
		MainClass:    "M",
		MainArtifact: "c1.jar",
		Dependencies: []DependencySpec{{Name: "foo", FileName: "foo.jar", Policy: PolicyLastVersionCheck}},
	}
	assert.ErrorIs(t, desc.Validate(), ErrDependencyNoVersion)

	desc.Dependencies[0].Version = "1.0"
	assert.NoError(t, desc.Validate())
	assert.Equal(t, "foo-1.0", desc.Dependencies[0].Key())
}

func TestDependencyPath(t *testing.T) {
	d := DependencySpec{Name: "foo", FileName: "foo.jar"}
	assert.Equal(t, filepath.Join("base", "lib", "foo.jar"), d.Path("base"))
	d.ArtifactDirectory = "shared"
	assert.Equal(t, filepath.Join("shared", "lib", "foo.jar"), d.Path("base"))
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicySimple, PolicyLastVersionCheck, PolicyForceDeploy} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("newest")
	assert.Error(t, err)
}
