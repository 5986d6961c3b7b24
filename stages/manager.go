package stages

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/curation/rules"
)

// costLimit bounds the evaluation cost of a single gate expression
const costLimit = 1000000

type compiledStage struct {
	def   Definition
	gates []cel.Program // nil entry means always run
}

// Manager holds the stage definitions and their compiled gates
type Manager struct {
	registry rules.Registry
	env      *cel.Env
	stages   map[string]*compiledStage
	mu       sync.RWMutex
}

// NewGateEnv creates the CEL environment gate expressions are checked against
func NewGateEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("project", cel.StringType),
		cel.Variable("dataset", cel.StringType),
		cel.Variable("sandbox", cel.StringType),
		cel.Variable("table_namer", cel.StringType),
		cel.Variable("stage", cel.StringType),
		cel.Variable("options", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func NewManager(registry rules.Registry) (*Manager, error) {
	env, err := NewGateEnv()
	if err != nil {
		return nil, err
	}
	return &Manager{
		registry: registry,
		env:      env,
		stages:   make(map[string]*compiledStage),
	}, nil
}

// CompileGate type-checks a gate expression; it must evaluate to bool
func (m *Manager) CompileGate(expression string) (cel.Program, error) {
	ast, issues := m.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("gate must evaluate to bool, got %s", out)
	}
	prog, err := m.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// Add validates def, compiles its gates and stores it, replacing any stage
// with the same name
func (m *Manager) Add(def Definition) error {
	if err := ValidateDefinition(def, m.registry); err != nil {
		return fmt.Errorf("invalid stage %q: %w", def.Name, err)
	}

	compiled := &compiledStage{def: def, gates: make([]cel.Program, len(def.Rules))}
	for i, entry := range def.Rules {
		if entry.When == "" {
			continue
		}
		prog, err := m.CompileGate(entry.When)
		if err != nil {
			return fmt.Errorf("invalid gate for rule %s in stage %s: %w", entry.Rule, def.Name, err)
		}
		compiled.gates[i] = prog
	}

	m.mu.Lock()
	m.stages[def.Name] = compiled
	m.mu.Unlock()
	return nil
}

// Get retrieves a stage definition by name
func (m *Manager) Get(name string) (Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, exists := m.stages[name]
	if !exists {
		return Definition{}, fmt.Errorf("stage %s not found", name)
	}
	return st.def, nil
}

// List returns all stages sorted by name
func (m *Manager) List() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Definition, 0, len(m.stages))
	for _, st := range m.stages {
		out = append(out, st.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes a stage
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.stages[name]; !exists {
		return fmt.Errorf("stage %s not found", name)
	}
	delete(m.stages, name)
	return nil
}

// Plan evaluates the stage's gates for target and resolves the rules that
// should run. Stage options are defaults; opts override them.
func (m *Manager) Plan(name string, target rules.Target, opts rules.Options) (*Plan, error) {
	m.mu.RLock()
	st, exists := m.stages[name]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("stage %s not found", name)
	}

	merged := rules.Options{}
	for k, v := range st.def.Options {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}

	vars := FactsFor(name, target, merged).activation()
	var selected, skipped []string
	for i, entry := range st.def.Rules {
		run, err := evalGate(st.gates[i], vars)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate gate for rule %s in stage %s: %w", entry.Rule, name, err)
		}
		if !run {
			skipped = append(skipped, entry.Rule)
			continue
		}
		selected = append(selected, entry.Rule)
	}

	decls, err := m.registry.Resolve(selected)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Stage: name,
		Request: rules.RunRequest{
			Target:  target,
			Rules:   decls,
			Options: merged,
		},
		Skipped: skipped,
	}, nil
}

func evalGate(prog cel.Program, vars map[string]any) (bool, error) {
	if prog == nil {
		return true, nil
	}
	out, _, err := prog.Eval(vars)
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("gate returned %T, want bool", out.Value())
	}
	return matched, nil
}
