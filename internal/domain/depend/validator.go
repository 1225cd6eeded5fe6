package depend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolgate-io/toolgate/internal/domain/session"
)

// EntityResolver answers read-only existence queries for domain entities
// referenced by ENTITY_EXISTS dependencies.
type EntityResolver interface {
	// Exists reports whether an entity of the given type and id exists.
	Exists(ctx context.Context, entityType, id string) (bool, error)
}

// CustomChecker evaluates a CUSTOM dependency against the call context
// and arguments.
type CustomChecker interface {
	// Check reports whether the custom prerequisite is satisfied.
	Check(ctx context.Context, callCtx map[string]any, args map[string]any) (bool, error)
}

// CustomCheckerFunc adapts a function to the CustomChecker interface.
type CustomCheckerFunc func(ctx context.Context, callCtx map[string]any, args map[string]any) (bool, error)

// Check implements CustomChecker.
func (f CustomCheckerFunc) Check(ctx context.Context, callCtx map[string]any, args map[string]any) (bool, error) {
	return f(ctx, callCtx, args)
}

// Validator evaluates registered tool dependencies before execution.
// Dependencies are registered at startup and treated as immutable afterwards.
type Validator struct {
	deps     map[string][]Dependency
	checkers map[string]CustomChecker
	history  session.HistoryStore
	entities EntityResolver
	logger   *slog.Logger
	mu       sync.RWMutex
}

// Option configures a Validator.
type Option func(*Validator)

// WithEntityResolver sets the resolver used by ENTITY_EXISTS dependencies.
// Without a resolver those dependencies are reported unmet.
func WithEntityResolver(r EntityResolver) Option {
	return func(v *Validator) {
		v.entities = r
	}
}

// NewValidator creates a dependency validator backed by the given session
// history store.
func NewValidator(history session.HistoryStore, logger *slog.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		deps:     make(map[string][]Dependency),
		checkers: make(map[string]CustomChecker),
		history:  history,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Register declares the dependencies of a tool, replacing any previous
// registration. Intended for startup wiring.
func (v *Validator) Register(tool string, deps ...Dependency) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deps[tool] = append([]Dependency(nil), deps...)
}

// RegisterChecker registers the callback for CUSTOM dependencies named name.
func (v *Validator) RegisterChecker(name string, checker CustomChecker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checkers[name] = checker
}

// Dependencies returns a copy of the registered dependencies for a tool.
func (v *Validator) Dependencies(tool string) []Dependency {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Dependency(nil), v.deps[tool]...)
}

// MissingDependencies evaluates each non-optional dependency of the tool and
// returns those currently unmet.
func (v *Validator) MissingDependencies(ctx context.Context, sessionID, tool string, callCtx, args map[string]any) ([]Dependency, error) {
	deps := v.Dependencies(tool)
	if len(deps) == 0 {
		return nil, nil
	}

	var called map[string]bool
	var missing []Dependency
	for _, dep := range deps {
		if dep.Optional {
			continue
		}

		met, err := func() (bool, error) {
			switch dep.Kind {
			case KindToolCalled:
				if called == nil {
					var err error
					called, err = v.history.CalledTools(ctx, sessionID)
					if err != nil {
						return false, fmt.Errorf("loading session tool history: %w", err)
					}
				}
				return dep.ToolCalled != nil && called[dep.ToolCalled.Tool], nil

			case KindSessionState:
				if dep.SessionState == nil {
					return false, nil
				}
				val, ok := callCtx[dep.SessionState.Key]
				return ok && val != nil, nil

			case KindContextExists:
				if dep.ContextExists == nil {
					return false, nil
				}
				_, ok := callCtx[dep.ContextExists.Key]
				return ok, nil

			case KindEntityExists:
				return v.checkEntity(ctx, dep, args)

			case KindCustom:
				return v.checkCustom(ctx, dep, callCtx, args)

			default:
				v.logger.Warn("unknown dependency kind treated as unmet",
					"tool", tool, "kind", string(dep.Kind))
				return false, nil
			}
		}()
		if err != nil {
			return nil, err
		}
		if !met {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

// checkEntity resolves the argument named by the dependency and queries the
// entity resolver for existence.
func (v *Validator) checkEntity(ctx context.Context, dep Dependency, args map[string]any) (bool, error) {
	if dep.EntityExists == nil {
		return false, nil
	}
	if v.entities == nil {
		v.logger.Warn("entity dependency declared but no resolver configured",
			"entity_type", dep.EntityExists.EntityType, "arg_key", dep.EntityExists.ArgKey)
		return false, nil
	}

	raw, ok := args[dep.EntityExists.ArgKey]
	if !ok || raw == nil {
		return false, nil
	}
	id := fmt.Sprintf("%v", raw)
	if id == "" {
		return false, nil
	}

	exists, err := v.entities.Exists(ctx, dep.EntityExists.EntityType, id)
	if err != nil {
		return false, fmt.Errorf("resolving %s %q: %w", dep.EntityExists.EntityType, id, err)
	}
	return exists, nil
}

// checkCustom runs the registered checker. An unregistered checker fails
// closed rather than silently passing.
func (v *Validator) checkCustom(ctx context.Context, dep Dependency, callCtx, args map[string]any) (bool, error) {
	if dep.Custom == nil {
		return false, nil
	}

	v.mu.RLock()
	checker, ok := v.checkers[dep.Custom.Name]
	v.mu.RUnlock()
	if !ok {
		v.logger.Error("custom dependency check has no registered checker, failing closed",
			"check", dep.Custom.Name)
		return false, nil
	}

	met, err := checker.Check(ctx, callCtx, args)
	if err != nil {
		return false, fmt.Errorf("custom check %q: %w", dep.Custom.Name, err)
	}
	return met, nil
}

// ValidateDependencies returns a MissingDependencyError when any non-optional
// dependency of the tool is unmet.
func (v *Validator) ValidateDependencies(ctx context.Context, sessionID, tool string, callCtx, args map[string]any) error {
	missing, err := v.MissingDependencies(ctx, sessionID, tool, callCtx, args)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingDependencyError{
		Tool:           tool,
		Missing:        missing,
		SuggestedOrder: v.suggestedOrder(tool, missing),
	}
}

// CheckDependencies reports whether all non-optional dependencies are met.
// Evaluation errors count as unmet.
func (v *Validator) CheckDependencies(ctx context.Context, sessionID, tool string, callCtx, args map[string]any) bool {
	missing, err := v.MissingDependencies(ctx, sessionID, tool, callCtx, args)
	if err != nil {
		v.logger.Warn("dependency evaluation failed", "tool", tool, "error", err)
		return false
	}
	return len(missing) == 0
}

// RecordToolCall appends the call to the session history so later
// TOOL_CALLED checks see it. Call only after the tool actually ran.
func (v *Validator) RecordToolCall(ctx context.Context, sessionID, tool string, args map[string]any) error {
	return v.history.Append(ctx, sessionID, session.ToolCall{
		Tool: tool,
		Args: args,
		At:   time.Now(),
	})
}

// suggestedOrder flattens the TOOL_CALLED prerequisites of each missing
// dependency depth-first, then appends the target tool. It is a hint, not a
// full plan; visited tools appear once.
func (v *Validator) suggestedOrder(tool string, missing []Dependency) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var order []string
	seen := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range v.deps[name] {
			if dep.Kind == KindToolCalled && dep.ToolCalled != nil {
				visit(dep.ToolCalled.Tool)
			}
		}
		order = append(order, name)
	}

	for _, dep := range missing {
		if dep.Kind == KindToolCalled && dep.ToolCalled != nil {
			visit(dep.ToolCalled.Tool)
		}
	}
	if !seen[tool] {
		order = append(order, tool)
	}
	return order
}

// TopologicalOrder returns all registered tools sorted so that every
// TOOL_CALLED prerequisite precedes its dependents. Returns a CycleError
// when the edges contain a cycle.
func (v *Validator) TopologicalOrder() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tools := make([]string, 0, len(v.deps))
	nodes := make(map[string]bool)
	for tool, deps := range v.deps {
		nodes[tool] = true
		for _, dep := range deps {
			if dep.Kind == KindToolCalled && dep.ToolCalled != nil {
				nodes[dep.ToolCalled.Tool] = true
			}
		}
	}
	for tool := range nodes {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tools))
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &CycleError{Tool: name}
		}
		state[name] = visiting
		for _, dep := range v.deps[name] {
			if dep.Kind == KindToolCalled && dep.ToolCalled != nil {
				if err := visit(dep.ToolCalled.Tool); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, tool := range tools {
		if err := visit(tool); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// graphNode is one tool in the exported dependency graph.
type graphNode struct {
	Tool         string       `yaml:"tool"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
}

// ExportGraphYAML renders the registered dependency graph as YAML for
// visualization and tooling, tools sorted by name.
func (v *Validator) ExportGraphYAML() ([]byte, error) {
	v.mu.RLock()
	tools := make([]string, 0, len(v.deps))
	for tool := range v.deps {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	nodes := make([]graphNode, 0, len(tools))
	for _, tool := range tools {
		nodes = append(nodes, graphNode{
			Tool:         tool,
			Dependencies: append([]Dependency(nil), v.deps[tool]...),
		})
	}
	v.mu.RUnlock()

	out, err := yaml.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("marshaling dependency graph: %w", err)
	}
	return out, nil
}
