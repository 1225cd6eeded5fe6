package version

import (
	"context"
	"encoding/json"
	"fmt"
)

// Warning kinds produced by MigrateCall.
const (
	WarnArgumentRemoved = "argument_removed"
	WarnDefaultApplied  = "default_applied"
	WarnMissingRequired = "missing_required"
)

// MigrationWarning describes one adjustment or problem found while migrating
// call arguments between schema versions.
type MigrationWarning struct {
	Kind     string `json:"kind"`
	Field    string `json:"field"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// MigrationResult is the outcome of a best-effort argument migration.
// Success is false only when a blocking warning exists.
type MigrationResult struct {
	Success     bool               `json:"success"`
	FromVersion string             `json:"from_version"`
	ToVersion   string             `json:"to_version"`
	Arguments   map[string]any     `json:"arguments"`
	Warnings    []MigrationWarning `json:"warnings,omitempty"`
}

// MigrateCall migrates call arguments from one version's input schema to
// another's. Arguments absent from the target schema are dropped with a
// warning; required target properties get their schema default when one
// exists, otherwise a blocking warning.
func (r *Resolver) MigrateCall(ctx context.Context, server, tool, fromVersion, toVersion string, args map[string]any) (*MigrationResult, error) {
	target, err := r.store.Get(ctx, server, tool, toVersion)
	if err != nil {
		return nil, fmt.Errorf("loading target version %s: %w", toVersion, err)
	}
	if target == nil {
		return nil, &ResolveError{
			Code: CodeVersionNotFound, Server: server, Tool: tool, Version: toVersion,
			Message: fmt.Sprintf("migration target %s of %s/%s is not registered", toVersion, server, tool),
		}
	}

	result := &MigrationResult{
		Success:     true,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Arguments:   make(map[string]any, len(args)),
	}

	schema := target.InputSchema
	if schema == nil || schema.Properties == nil {
		// No target schema to migrate against, pass arguments through.
		for k, v := range args {
			result.Arguments[k] = v
		}
		return result, nil
	}

	for key, val := range args {
		if _, ok := schema.Properties[key]; !ok {
			result.Warnings = append(result.Warnings, MigrationWarning{
				Kind:    WarnArgumentRemoved,
				Field:   key,
				Message: fmt.Sprintf("argument %q does not exist in version %s and was removed", key, toVersion),
			})
			continue
		}
		result.Arguments[key] = val
	}

	for _, req := range schema.Required {
		if _, ok := result.Arguments[req]; ok {
			continue
		}
		prop := schema.Properties[req]
		if prop != nil && len(prop.Default) > 0 {
			var def any
			if err := json.Unmarshal(prop.Default, &def); err != nil {
				return nil, fmt.Errorf("decoding default for %q: %w", req, err)
			}
			result.Arguments[req] = def
			result.Warnings = append(result.Warnings, MigrationWarning{
				Kind:    WarnDefaultApplied,
				Field:   req,
				Message: fmt.Sprintf("applied default for required argument %q", req),
			})
			continue
		}
		result.Warnings = append(result.Warnings, MigrationWarning{
			Kind:     WarnMissingRequired,
			Field:    req,
			Message:  fmt.Sprintf("required argument %q is missing and has no default", req),
			Blocking: true,
		})
		result.Success = false
	}

	return result, nil
}
