package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Status is the lifecycle stage of a registered tool version.
type Status string

const (
	// StatusActive marks a version as fully supported.
	StatusActive Status = "active"
	// StatusDeprecated marks a version that still resolves but warns callers.
	StatusDeprecated Status = "deprecated"
	// StatusSunset marks a version that no longer resolves.
	StatusSunset Status = "sunset"
)

// ToolVersion is one registered version of a tool on a server.
type ToolVersion struct {
	Server             string             `json:"server"`
	Tool               string             `json:"tool"`
	Version            string             `json:"version"`
	InputSchema        *jsonschema.Schema `json:"input_schema,omitempty"`
	OutputSchema       *jsonschema.Schema `json:"output_schema,omitempty"`
	IsLatest           bool               `json:"is_latest"`
	Status             Status             `json:"status"`
	DeprecationMessage string             `json:"deprecation_message,omitempty"`
	SunsetMessage      string             `json:"sunset_message,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Resolution is the outcome of resolving a version request.
// Warning is set for non-fatal conditions such as deprecation.
type Resolution struct {
	Version *ToolVersion `json:"version"`
	Warning string       `json:"warning,omitempty"`
}

// Error codes returned by Resolve.
const (
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeVersionNotFound = "VERSION_NOT_FOUND"
	CodeVersionSunset   = "VERSION_SUNSET"
)

// ResolveError reports why a version request could not be satisfied.
type ResolveError struct {
	Code    string
	Server  string
	Tool    string
	Version string
	Message string
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s/%s %s", e.Code, e.Server, e.Tool, e.Version)
}

// InvalidVersionError is returned when a version string is not strict semver.
type InvalidVersionError struct {
	Version string
}

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid semantic version %q", e.Version)
}

// semverPattern is the strict semver 2.0.0 grammar.
var semverPattern = regexp.MustCompile(
	`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
		`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// ValidSemver reports whether v is a strict semantic version.
func ValidSemver(v string) bool {
	return semverPattern.MatchString(v)
}

// Normalize strips pre-release and build metadata, leaving major.minor.patch.
func Normalize(v string) string {
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		return v[:i]
	}
	return v
}

// Compare orders two semver strings by normalised major.minor.patch.
// Returns -1, 0 or 1. Malformed components compare as zero.
func Compare(a, b string) int {
	pa := parseParts(Normalize(a))
	pb := parseParts(Normalize(b))
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseParts(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err == nil {
			out[i] = n
		}
	}
	return out
}
