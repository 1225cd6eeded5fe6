package version_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-io/toolgate/internal/domain/version"
)

func testResolver(t *testing.T) *version.Resolver {
	t.Helper()
	return version.NewResolver(memory.NewVersionStore(), slog.Default())
}

func register(t *testing.T, r *version.Resolver, ver string, opts version.RegisterOptions) *version.ToolVersion {
	t.Helper()
	tv, err := r.Register(context.Background(), version.ToolVersion{
		Server: "srv", Tool: "search", Version: ver,
	}, opts)
	if err != nil {
		t.Fatalf("Register(%s): %v", ver, err)
	}
	return tv
}

func TestRegisterFirstVersionBecomesLatest(t *testing.T) {
	r := testResolver(t)
	tv := register(t, r, "1.0.0", version.RegisterOptions{})
	if !tv.IsLatest {
		t.Error("first registered version not flagged latest")
	}
	if tv.Status != version.StatusActive {
		t.Errorf("Status = %q, want active default", tv.Status)
	}

	// A later version without the Latest flag does not steal it.
	tv2 := register(t, r, "1.1.0", version.RegisterOptions{})
	if tv2.IsLatest {
		t.Error("second version flagged latest without opts.Latest")
	}

	res, err := r.Resolve(context.Background(), "srv", "search", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Version.Version != "1.0.0" {
		t.Errorf("latest = %s, want 1.0.0", res.Version.Version)
	}
}

func TestRegisterExplicitLatest(t *testing.T) {
	r := testResolver(t)
	register(t, r, "1.0.0", version.RegisterOptions{})
	register(t, r, "2.0.0", version.RegisterOptions{Latest: true})

	res, err := r.Resolve(context.Background(), "srv", "search", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Version.Version != "2.0.0" {
		t.Errorf("latest = %s, want 2.0.0", res.Version.Version)
	}
	if !res.Version.IsLatest {
		t.Error("resolved latest row not flagged")
	}

	// The flag moved off 1.0.0.
	old, err := r.Resolve(context.Background(), "srv", "search", "1.0.0")
	if err != nil {
		t.Fatalf("Resolve(1.0.0): %v", err)
	}
	if old.Version.IsLatest {
		t.Error("previous latest still flagged")
	}
}

func TestRegisterRejectsInvalidSemver(t *testing.T) {
	r := testResolver(t)
	for _, bad := range []string{"1", "1.0", "v1.0.0", "1.0.0.0", "01.0.0", "latest", ""} {
		_, err := r.Register(context.Background(), version.ToolVersion{
			Server: "srv", Tool: "search", Version: bad,
		}, version.RegisterOptions{})
		var inv *version.InvalidVersionError
		if !errors.As(err, &inv) {
			t.Errorf("Register(%q) = %v, want InvalidVersionError", bad, err)
		}
	}
}

func TestResolveExplicitVersion(t *testing.T) {
	r := testResolver(t)
	register(t, r, "1.0.0", version.RegisterOptions{})
	register(t, r, "1.1.0", version.RegisterOptions{Latest: true})

	res, err := r.Resolve(context.Background(), "srv", "search", "1.0.0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Version.Version != "1.0.0" {
		t.Errorf("resolved %s, want 1.0.0", res.Version.Version)
	}
	if res.Warning != "" {
		t.Errorf("Warning = %q, want empty for active version", res.Warning)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := testResolver(t)
	register(t, r, "1.0.0", version.RegisterOptions{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "srv", "search", "9.9.9")
	var re *version.ResolveError
	if !errors.As(err, &re) || re.Code != version.CodeVersionNotFound {
		t.Errorf("Resolve(9.9.9) = %v, want VERSION_NOT_FOUND", err)
	}

	_, err = r.Resolve(ctx, "srv", "unknown", "")
	if !errors.As(err, &re) || re.Code != version.CodeToolNotFound {
		t.Errorf("Resolve(unknown tool) = %v, want TOOL_NOT_FOUND", err)
	}
}

func TestResolveSunsetIsHardStop(t *testing.T) {
	r := testResolver(t)
	register(t, r, "1.0.0", version.RegisterOptions{
		Status:        version.StatusSunset,
		SunsetMessage: "use 2.0.0 instead",
	})
	register(t, r, "2.0.0", version.RegisterOptions{Latest: true})

	_, err := r.Resolve(context.Background(), "srv", "search", "1.0.0")
	var re *version.ResolveError
	if !errors.As(err, &re) || re.Code != version.CodeVersionSunset {
		t.Fatalf("Resolve(sunset) = %v, want VERSION_SUNSET", err)
	}
	if re.Message != "use 2.0.0 instead" {
		t.Errorf("Message = %q, want registered sunset message", re.Message)
	}
}

func TestResolveDeprecatedWarns(t *testing.T) {
	r := testResolver(t)
	register(t, r, "1.0.0", version.RegisterOptions{
		Status:             version.StatusDeprecated,
		DeprecationMessage: "1.x is going away",
	})

	res, err := r.Resolve(context.Background(), "srv", "search", "1.0.0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Warning != "1.x is going away" {
		t.Errorf("Warning = %q, want deprecation message", res.Warning)
	}
}

func TestResolveLatestFallsBackToHighestActive(t *testing.T) {
	// Rows saved directly to the store carry no latest flag, as with data
	// imported from an external registry. Latest then falls back to the
	// highest active version by numeric order.
	store := memory.NewVersionStore()
	ctx := context.Background()
	for _, row := range []version.ToolVersion{
		{Server: "srv", Tool: "search", Version: "1.0.0", Status: version.StatusSunset},
		{Server: "srv", Tool: "search", Version: "1.2.0", Status: version.StatusActive},
		{Server: "srv", Tool: "search", Version: "1.10.0", Status: version.StatusActive},
	} {
		row := row
		if err := store.Save(ctx, &row); err != nil {
			t.Fatalf("Save(%s): %v", row.Version, err)
		}
	}
	r := version.NewResolver(store, slog.Default())

	res, err := r.Resolve(ctx, "srv", "search", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Version.Version != "1.10.0" {
		t.Errorf("fallback latest = %s, want 1.10.0 by numeric order", res.Version.Version)
	}
}

func TestRegisterUpdatePreservesCreatedAt(t *testing.T) {
	r := testResolver(t)
	first := register(t, r, "1.0.0", version.RegisterOptions{})
	second := register(t, r, "1.0.0", version.RegisterOptions{
		Status: version.StatusDeprecated,
	})

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.IsLatest {
		t.Error("update dropped the latest flag")
	}
	if second.Status != version.StatusDeprecated {
		t.Errorf("Status = %q, want deprecated", second.Status)
	}
}

func TestCompareAndNormalize(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.10.0", "1.2.0", 1},
		{"2.0.0", "1.99.99", 1},
		{"1.0.0-alpha", "1.0.0", 0},
		{"1.0.0+build.5", "1.0.0", 0},
	}
	for _, tt := range tests {
		if got := version.Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if got := version.Normalize("1.2.3-rc.1+build"); got != "1.2.3" {
		t.Errorf("Normalize = %q, want 1.2.3", got)
	}
	if !version.ValidSemver("1.0.0-alpha.1+exp.sha.5114f85") {
		t.Error("full semver with pre-release and build rejected")
	}
}

func TestMigrateCallDropsAndDefaults(t *testing.T) {
	r := testResolver(t)
	ctx := context.Background()

	_, err := r.Register(ctx, version.ToolVersion{
		Server: "srv", Tool: "search", Version: "2.0.0",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string"},
				"limit": {Type: "integer", Default: json.RawMessage(`10`)},
			},
			Required: []string{"query", "limit"},
		},
	}, version.RegisterOptions{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := r.MigrateCall(ctx, "srv", "search", "1.0.0", "2.0.0", map[string]any{
		"query": "docs",
		"page":  3,
	})
	if err != nil {
		t.Fatalf("MigrateCall: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, warnings: %+v", res.Warnings)
	}
	if _, ok := res.Arguments["page"]; ok {
		t.Error("argument absent from target schema not dropped")
	}
	if got := res.Arguments["limit"]; got != float64(10) {
		t.Errorf("limit default = %v (%T), want 10", got, got)
	}

	kinds := make(map[string]string)
	for _, w := range res.Warnings {
		kinds[w.Field] = w.Kind
	}
	if kinds["page"] != version.WarnArgumentRemoved {
		t.Errorf("page warning = %q, want argument_removed", kinds["page"])
	}
	if kinds["limit"] != version.WarnDefaultApplied {
		t.Errorf("limit warning = %q, want default_applied", kinds["limit"])
	}
}

func TestMigrateCallBlockingMissingRequired(t *testing.T) {
	r := testResolver(t)
	ctx := context.Background()

	_, err := r.Register(ctx, version.ToolVersion{
		Server: "srv", Tool: "search", Version: "2.0.0",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string"},
			},
			Required: []string{"query"},
		},
	}, version.RegisterOptions{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := r.MigrateCall(ctx, "srv", "search", "1.0.0", "2.0.0", map[string]any{})
	if err != nil {
		t.Fatalf("MigrateCall: %v", err)
	}
	if res.Success {
		t.Error("Success = true with a required argument missing and no default")
	}
	if len(res.Warnings) != 1 || !res.Warnings[0].Blocking {
		t.Errorf("Warnings = %+v, want one blocking warning", res.Warnings)
	}
	if res.Warnings[0].Kind != version.WarnMissingRequired {
		t.Errorf("Kind = %q, want missing_required", res.Warnings[0].Kind)
	}
}

func TestMigrateCallNoSchemaPassthrough(t *testing.T) {
	r := testResolver(t)
	ctx := context.Background()
	register(t, r, "2.0.0", version.RegisterOptions{})

	res, err := r.MigrateCall(ctx, "srv", "search", "1.0.0", "2.0.0", map[string]any{
		"anything": "goes",
	})
	if err != nil {
		t.Fatalf("MigrateCall: %v", err)
	}
	if !res.Success || res.Arguments["anything"] != "goes" {
		t.Errorf("passthrough result = %+v", res)
	}
}

func TestMigrateCallUnknownTarget(t *testing.T) {
	r := testResolver(t)
	_, err := r.MigrateCall(context.Background(), "srv", "search", "1.0.0", "9.9.9", nil)
	var re *version.ResolveError
	if !errors.As(err, &re) || re.Code != version.CodeVersionNotFound {
		t.Errorf("MigrateCall = %v, want VERSION_NOT_FOUND", err)
	}
}
