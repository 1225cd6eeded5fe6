package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/toolgate-io/toolgate/internal/domain/version"
)

// VersionStore implements version.Store on SQLite.
type VersionStore struct {
	db *sql.DB
}

// NewVersionStore creates a version store over an opened database.
func NewVersionStore(db *sql.DB) *VersionStore {
	return &VersionStore{db: db}
}

const versionColumns = `server, tool, version, input_schema, output_schema,
	is_latest, status, deprecation_message, sunset_message, created_at, updated_at`

// Get returns the version row, or nil when not registered.
func (s *VersionStore) Get(ctx context.Context, server, tool, ver string) (*version.ToolVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM tool_versions WHERE server = ? AND tool = ? AND version = ?`,
		server, tool, ver)
	tv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tv, err
}

// List returns all versions registered for (server, tool).
func (s *VersionStore) List(ctx context.Context, server, tool string) ([]version.ToolVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM tool_versions WHERE server = ? AND tool = ? ORDER BY version`,
		server, tool)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var out []version.ToolVersion
	for rows.Next() {
		tv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tv)
	}
	return out, rows.Err()
}

// Latest returns the row flagged latest, or nil when none is flagged.
func (s *VersionStore) Latest(ctx context.Context, server, tool string) (*version.ToolVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM tool_versions WHERE server = ? AND tool = ? AND is_latest = 1`,
		server, tool)
	tv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tv, err
}

// Save creates or updates a version row.
func (s *VersionStore) Save(ctx context.Context, tv *version.ToolVersion) error {
	input, err := marshalSchema(tv.InputSchema)
	if err != nil {
		return fmt.Errorf("encoding input schema: %w", err)
	}
	output, err := marshalSchema(tv.OutputSchema)
	if err != nil {
		return fmt.Errorf("encoding output schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_versions (
			server, tool, version, input_schema, output_schema,
			is_latest, status, deprecation_message, sunset_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server, tool, version) DO UPDATE SET
			input_schema = excluded.input_schema,
			output_schema = excluded.output_schema,
			status = excluded.status,
			deprecation_message = excluded.deprecation_message,
			sunset_message = excluded.sunset_message,
			updated_at = excluded.updated_at`,
		tv.Server, tv.Tool, tv.Version, input, output,
		boolInt(tv.IsLatest), string(tv.Status), tv.DeprecationMessage, tv.SunsetMessage,
		tv.CreatedAt.UTC().Format(time.RFC3339Nano),
		tv.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving version %s/%s %s: %w", tv.Server, tv.Tool, tv.Version, err)
	}
	return nil
}

// SetLatest flags one version latest and clears every other flag for the
// tool inside a single transaction.
func (s *VersionStore) SetLatest(ctx context.Context, server, tool, ver string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tool_versions SET is_latest = 0 WHERE server = ? AND tool = ?`,
		server, tool); err != nil {
		return fmt.Errorf("clearing latest flags: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tool_versions SET is_latest = 1 WHERE server = ? AND tool = ? AND version = ?`,
		server, tool, ver)
	if err != nil {
		return fmt.Errorf("setting latest flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("version %s/%s %s not found", server, tool, ver)
	}

	return tx.Commit()
}

func marshalSchema(s *jsonschema.Schema) (any, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanVersion(sc scanner) (*version.ToolVersion, error) {
	var (
		tv        version.ToolVersion
		input     sql.NullString
		output    sql.NullString
		latest    int
		status    string
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(
		&tv.Server, &tv.Tool, &tv.Version, &input, &output,
		&latest, &status, &tv.DeprecationMessage, &tv.SunsetMessage,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if input.Valid && input.String != "" {
		var s jsonschema.Schema
		if err := json.Unmarshal([]byte(input.String), &s); err != nil {
			return nil, fmt.Errorf("decoding input schema: %w", err)
		}
		tv.InputSchema = &s
	}
	if output.Valid && output.String != "" {
		var s jsonschema.Schema
		if err := json.Unmarshal([]byte(output.String), &s); err != nil {
			return nil, fmt.Errorf("decoding output schema: %w", err)
		}
		tv.OutputSchema = &s
	}

	ct, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	ut, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	tv.CreatedAt = ct
	tv.UpdatedAt = ut
	tv.IsLatest = latest != 0
	tv.Status = version.Status(status)
	return &tv, nil
}

// Compile-time interface verification.
var _ version.Store = (*VersionStore)(nil)
