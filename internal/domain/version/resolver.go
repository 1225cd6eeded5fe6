package version

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store persists registered tool versions.
type Store interface {
	// Get returns the version row, or nil when it does not exist.
	Get(ctx context.Context, server, tool, version string) (*ToolVersion, error)
	// List returns all versions registered for (server, tool).
	List(ctx context.Context, server, tool string) ([]ToolVersion, error)
	// Latest returns the row flagged latest, or nil when none is flagged.
	Latest(ctx context.Context, server, tool string) (*ToolVersion, error)
	// Save creates or updates a version row.
	Save(ctx context.Context, v *ToolVersion) error
	// SetLatest flags the given version latest and clears the flag on every
	// other version of (server, tool) in the same transaction.
	SetLatest(ctx context.Context, server, tool, version string) error
}

// RegisterOptions configures version registration.
type RegisterOptions struct {
	// Latest explicitly flags the version latest. The first version ever
	// registered for a tool becomes latest regardless.
	Latest bool
	// Status defaults to StatusActive when empty.
	Status             Status
	DeprecationMessage string
	SunsetMessage      string
}

// Resolver registers and resolves tool versions.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a version resolver backed by the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Register validates the version string and creates or updates the version
// row. The row becomes latest when opts.Latest is set or when it is the
// first version registered for the tool.
func (r *Resolver) Register(ctx context.Context, tv ToolVersion, opts RegisterOptions) (*ToolVersion, error) {
	if !ValidSemver(tv.Version) {
		return nil, &InvalidVersionError{Version: tv.Version}
	}

	existing, err := r.store.List(ctx, tv.Server, tv.Tool)
	if err != nil {
		return nil, fmt.Errorf("listing versions for %s/%s: %w", tv.Server, tv.Tool, err)
	}

	now := time.Now().UTC()
	tv.UpdatedAt = now
	if prev, err := r.store.Get(ctx, tv.Server, tv.Tool, tv.Version); err != nil {
		return nil, fmt.Errorf("loading version %s: %w", tv.Version, err)
	} else if prev != nil {
		tv.CreatedAt = prev.CreatedAt
		tv.IsLatest = prev.IsLatest
	} else {
		tv.CreatedAt = now
	}

	tv.Status = opts.Status
	if tv.Status == "" {
		tv.Status = StatusActive
	}
	tv.DeprecationMessage = opts.DeprecationMessage
	tv.SunsetMessage = opts.SunsetMessage

	if err := r.store.Save(ctx, &tv); err != nil {
		return nil, fmt.Errorf("saving version %s/%s %s: %w", tv.Server, tv.Tool, tv.Version, err)
	}

	if opts.Latest || len(existing) == 0 {
		if err := r.store.SetLatest(ctx, tv.Server, tv.Tool, tv.Version); err != nil {
			return nil, fmt.Errorf("flagging latest: %w", err)
		}
		tv.IsLatest = true
	}

	r.logger.Info("tool version registered",
		"server", tv.Server, "tool", tv.Tool,
		"version", tv.Version, "latest", tv.IsLatest, "status", string(tv.Status))
	return &tv, nil
}

// Resolve returns the version to use for a call. An empty requested version
// resolves to the latest flagged row, falling back to the highest active
// version when no row is flagged. A sunset version is a hard stop; a
// deprecated one resolves with a warning.
func (r *Resolver) Resolve(ctx context.Context, server, tool, requested string) (*Resolution, error) {
	if requested == "" {
		return r.resolveLatest(ctx, server, tool)
	}

	tv, err := r.store.Get(ctx, server, tool, requested)
	if err != nil {
		return nil, fmt.Errorf("loading version %s/%s %s: %w", server, tool, requested, err)
	}
	if tv == nil {
		return nil, &ResolveError{
			Code: CodeVersionNotFound, Server: server, Tool: tool, Version: requested,
			Message: fmt.Sprintf("version %s of %s/%s is not registered", requested, server, tool),
		}
	}
	return r.checked(tv)
}

// resolveLatest picks the flagged row, or the highest-semver active row.
func (r *Resolver) resolveLatest(ctx context.Context, server, tool string) (*Resolution, error) {
	tv, err := r.store.Latest(ctx, server, tool)
	if err != nil {
		return nil, fmt.Errorf("loading latest version of %s/%s: %w", server, tool, err)
	}
	if tv != nil {
		return r.checked(tv)
	}

	all, err := r.store.List(ctx, server, tool)
	if err != nil {
		return nil, fmt.Errorf("listing versions for %s/%s: %w", server, tool, err)
	}
	if len(all) == 0 {
		return nil, &ResolveError{
			Code: CodeToolNotFound, Server: server, Tool: tool,
			Message: fmt.Sprintf("tool %s/%s has no registered versions", server, tool),
		}
	}

	var best *ToolVersion
	for i := range all {
		if all[i].Status != StatusActive {
			continue
		}
		if best == nil || Compare(all[i].Version, best.Version) > 0 {
			best = &all[i]
		}
	}
	if best == nil {
		return nil, &ResolveError{
			Code: CodeVersionNotFound, Server: server, Tool: tool,
			Message: fmt.Sprintf("tool %s/%s has no active versions", server, tool),
		}
	}
	return r.checked(best)
}

// checked applies lifecycle rules to a resolved row.
func (r *Resolver) checked(tv *ToolVersion) (*Resolution, error) {
	if tv.Status == StatusSunset {
		msg := tv.SunsetMessage
		if msg == "" {
			msg = fmt.Sprintf("version %s of %s/%s has been sunset", tv.Version, tv.Server, tv.Tool)
		}
		return nil, &ResolveError{
			Code: CodeVersionSunset, Server: tv.Server, Tool: tv.Tool, Version: tv.Version,
			Message: msg,
		}
	}

	res := &Resolution{Version: tv}
	if tv.Status == StatusDeprecated {
		res.Warning = tv.DeprecationMessage
		if res.Warning == "" {
			res.Warning = fmt.Sprintf("version %s of %s/%s is deprecated", tv.Version, tv.Server, tv.Tool)
		}
	}
	return res, nil
}
