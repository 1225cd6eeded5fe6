package depend

import (
	"fmt"
	"strings"
)

// Kind identifies the variant of a tool dependency.
type Kind string

const (
	// KindToolCalled requires another tool to have been called in the session.
	KindToolCalled Kind = "TOOL_CALLED"
	// KindSessionState requires a context key to be present and non-nil.
	KindSessionState Kind = "SESSION_STATE"
	// KindContextExists requires a context key to be present, value may be nil.
	KindContextExists Kind = "CONTEXT_EXISTS"
	// KindEntityExists requires a referenced domain entity to exist in storage.
	KindEntityExists Kind = "ENTITY_EXISTS"
	// KindCustom delegates the check to a registered callback.
	KindCustom Kind = "CUSTOM"
)

// Dependency is one prerequisite for calling a tool. Exactly one of the
// variant payloads is set, selected by Kind.
type Dependency struct {
	Kind     Kind   `json:"kind" yaml:"kind"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`

	// ToolCalled is set when Kind is KindToolCalled.
	ToolCalled *ToolCalledDep `json:"tool_called,omitempty" yaml:"tool_called,omitempty"`
	// SessionState is set when Kind is KindSessionState.
	SessionState *SessionStateDep `json:"session_state,omitempty" yaml:"session_state,omitempty"`
	// ContextExists is set when Kind is KindContextExists.
	ContextExists *ContextExistsDep `json:"context_exists,omitempty" yaml:"context_exists,omitempty"`
	// EntityExists is set when Kind is KindEntityExists.
	EntityExists *EntityExistsDep `json:"entity_exists,omitempty" yaml:"entity_exists,omitempty"`
	// Custom is set when Kind is KindCustom.
	Custom *CustomDep `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// ToolCalledDep requires Tool to appear in the session's called-tool set.
type ToolCalledDep struct {
	Tool string `json:"tool" yaml:"tool"`
}

// SessionStateDep requires context[Key] to be present and non-nil.
type SessionStateDep struct {
	Key string `json:"key" yaml:"key"`
}

// ContextExistsDep requires the context map to contain Key.
type ContextExistsDep struct {
	Key string `json:"key" yaml:"key"`
}

// EntityExistsDep requires the entity referenced by the call argument named
// ArgKey to exist, resolved by entity type.
type EntityExistsDep struct {
	EntityType string `json:"entity_type" yaml:"entity_type"`
	ArgKey     string `json:"arg_key" yaml:"arg_key"`
}

// CustomDep delegates the check to the checker registered under Name.
type CustomDep struct {
	Name string `json:"name" yaml:"name"`
}

// Key returns the identifying key of the dependency for display purposes.
func (d Dependency) Key() string {
	switch d.Kind {
	case KindToolCalled:
		if d.ToolCalled != nil {
			return d.ToolCalled.Tool
		}
	case KindSessionState:
		if d.SessionState != nil {
			return d.SessionState.Key
		}
	case KindContextExists:
		if d.ContextExists != nil {
			return d.ContextExists.Key
		}
	case KindEntityExists:
		if d.EntityExists != nil {
			return d.EntityExists.ArgKey
		}
	case KindCustom:
		if d.Custom != nil {
			return d.Custom.Name
		}
	}
	return ""
}

// Describe returns a human-readable description of the unmet dependency,
// preferring the registered message when present.
func (d Dependency) Describe() string {
	if d.Message != "" {
		return d.Message
	}
	switch d.Kind {
	case KindToolCalled:
		return fmt.Sprintf("tool %q must be called first", d.Key())
	case KindSessionState:
		return fmt.Sprintf("session state %q must be set", d.Key())
	case KindContextExists:
		return fmt.Sprintf("context key %q must exist", d.Key())
	case KindEntityExists:
		if d.EntityExists != nil {
			return fmt.Sprintf("referenced %s (argument %q) must exist", d.EntityExists.EntityType, d.Key())
		}
	case KindCustom:
		return fmt.Sprintf("custom check %q must pass", d.Key())
	}
	return "dependency unmet"
}

// MissingDependencyError is returned when a tool's prerequisites are unmet.
// SuggestedOrder is a depth-first hint, prerequisites first and the target
// tool last.
type MissingDependencyError struct {
	Tool           string
	Missing        []Dependency
	SuggestedOrder []string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	descs := make([]string, 0, len(e.Missing))
	for _, d := range e.Missing {
		descs = append(descs, d.Describe())
	}
	return fmt.Sprintf("tool %q has unmet dependencies: %s", e.Tool, strings.Join(descs, "; "))
}

// CycleError is returned when the registered TOOL_CALLED edges contain a
// cycle and no topological order exists.
type CycleError struct {
	Tool string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving tool %q", e.Tool)
}
