package host

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

// Op names a Memory operation for failure injection.
type Op string

const (
	OpListAll          Op = "list_all"
	OpRegister         Op = "register"
	OpUnregister       Op = "unregister"
	OpExecute          Op = "execute"
	OpAddDependency    Op = "add_dependency"
	OpRemoveDependency Op = "remove_dependency"
	OpInventory        Op = "inventory"
	OpPause            Op = "pause"
	OpResume           Op = "resume"
)

// Stats counts the mutations applied to a Memory host.
type Stats struct {
	Registers   int
	Unregisters int
	Adds        int
	Removes     int
	Pauses      int
	Resumes     int
	Executions  int
	Inventories int
}

// Memory is an in-process host engine. It implements every host port and is
// safe for concurrent use.
type Memory struct {
	Bindings

	mu       sync.Mutex
	commands map[string]RegisteredCommand
	deps     map[string][]byte
	paused   bool
	stats    Stats
	failures map[Op]error
}

// NewMemory returns an empty in-memory host.
func NewMemory() *Memory {
	return &Memory{
		commands: make(map[string]RegisteredCommand),
		deps:     make(map[string][]byte),
		failures: make(map[Op]error),
	}
}

// Engine exposes m through every host port.
func (m *Memory) Engine() Engine {
	return Engine{Commands: m, Dependencies: m, Inventory: m, Lifecycle: m}
}

// Fail makes every later call of op return err; a nil err clears it.
func (m *Memory) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Memory) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// DependencyNames returns the stored dependency names, sorted.
func (m *Memory) DependencyNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.deps))
	for name := range m.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dependency returns the stored payload for name.
func (m *Memory) Dependency(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.deps[name]
	return body, ok
}

// Seed stores a dependency without counting it as a mutation.
func (m *Memory) Seed(name string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = body
}

func (m *Memory) failure(op Op) error {
	return m.failures[op]
}

func (m *Memory) ListAll(_ context.Context) ([]RegisteredCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpListAll); err != nil {
		return nil, err
	}
	out := make([]RegisteredCommand, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Register(_ context.Context, name, description, mainClass string) (RegisteredCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpRegister); err != nil {
		return RegisteredCommand{}, err
	}
	for _, c := range m.commands {
		if c.Name == name {
			return RegisteredCommand{}, fmt.Errorf("%w: %s", ErrCommandAlreadyExists, name)
		}
	}
	cmd := RegisteredCommand{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		MainClass:   mainClass,
	}
	m.commands[cmd.ID] = cmd
	m.stats.Registers++
	return cmd, nil
}

func (m *Memory) Unregister(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpUnregister); err != nil {
		return err
	}
	if _, ok := m.commands[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	delete(m.commands, id)
	m.stats.Unregisters++
	return nil
}

func (m *Memory) Execute(ctx context.Context, id string, envelope params.Bag) (any, error) {
	m.mu.Lock()
	if err := m.failure(OpExecute); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	cmd, ok := m.commands[id]
	m.stats.Executions++
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	// Invoke outside the lock: commands may call back into the host.
	return m.Bindings.Invoke(ctx, cmd, envelope)
}

func (m *Memory) AddDependency(_ context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpAddDependency); err != nil {
		return err
	}
	if _, ok := m.deps[name]; ok {
		return fmt.Errorf("%w: %s", ErrDependencyAlreadyExists, name)
	}
	m.deps[name] = append([]byte(nil), body...)
	m.stats.Adds++
	return nil
}

func (m *Memory) RemoveDependency(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpRemoveDependency); err != nil {
		return err
	}
	if _, ok := m.deps[name]; !ok {
		return fmt.Errorf("%w: %s", ErrDependencyNotFound, name)
	}
	delete(m.deps, name)
	m.stats.Removes++
	return nil
}

func (m *Memory) FindDependencyNamesByPrefix(_ context.Context, prefixes []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpInventory); err != nil {
		return nil, err
	}
	m.stats.Inventories++
	var out []string
	for name := range m.deps {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Pause(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpPause); err != nil {
		return err
	}
	m.paused = true
	m.stats.Pauses++
	return nil
}

func (m *Memory) Resume(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpResume); err != nil {
		return err
	}
	m.paused = false
	m.stats.Resumes++
	return nil
}
