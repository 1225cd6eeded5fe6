package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

// ChainStore implements audit.ChainStore on SQLite.
type ChainStore struct {
	db *sql.DB
}

// NewChainStore creates a chain store over an opened database.
func NewChainStore(db *sql.DB) *ChainStore {
	return &ChainStore{db: db}
}

const entryColumns = `id, server_id, tool, input_params, output_summary,
	success, duration_ms, error_code, error_message,
	session_id, workspace_id, actor_type, actor_id, actor_ip,
	agent_type, plan_slug, sensitive, created_at, previous_hash, entry_hash`

// Last returns the entry with the highest id, or nil when the log is empty.
func (s *ChainStore) Last(ctx context.Context) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries ORDER BY id DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Insert persists a new entry and returns its assigned id.
func (s *ChainStore) Insert(ctx context.Context, e *audit.Entry) (int64, error) {
	input, err := json.Marshal(e.InputParams)
	if err != nil {
		return 0, fmt.Errorf("encoding input params: %w", err)
	}
	output, err := json.Marshal(e.OutputSummary)
	if err != nil {
		return 0, fmt.Errorf("encoding output summary: %w", err)
	}

	var prev any
	if e.PreviousHash != nil {
		prev = *e.PreviousHash
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			server_id, tool, input_params, output_summary,
			success, duration_ms, error_code, error_message,
			session_id, workspace_id, actor_type, actor_id, actor_ip,
			agent_type, plan_slug, sensitive, created_at, previous_hash, entry_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
		e.ServerID, e.Tool, string(input), string(output),
		boolInt(e.Success), e.DurationMs, e.ErrorCode, e.ErrorMessage,
		e.SessionID, e.WorkspaceID, e.ActorType, e.ActorID, e.ActorIP,
		e.AgentType, e.PlanSlug, boolInt(e.Sensitive),
		e.CreatedAt.UTC().Format(time.RFC3339Nano), prev)
	if err != nil {
		return 0, fmt.Errorf("inserting entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return id, nil
}

// SetHash backfills the computed hash onto a row, touching nothing else.
func (s *ChainStore) SetHash(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_entries SET entry_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("updating hash on entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %d not found", id)
	}
	return nil
}

// Range returns up to limit entries with fromID <= id <= toID in ascending
// order, toID zero meaning no upper bound.
func (s *ChainStore) Range(ctx context.Context, fromID, toID int64, limit int) ([]audit.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE id >= ?`
	args := []any{fromID}
	if toID > 0 {
		query += ` AND id <= ?`
		args = append(args, toID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries with id in [fromID, toID].
func (s *ChainStore) Count(ctx context.Context, fromID, toID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_entries WHERE id >= ?`
	args := []any{fromID}
	if toID > 0 {
		query += ` AND id <= ?`
		args = append(args, toID)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// MinID returns the smallest id in the log, or 0 when empty.
func (s *ChainStore) MinID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(id) FROM audit_entries`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading min id: %w", err)
	}
	return id.Int64, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*audit.Entry, error) {
	var (
		e         audit.Entry
		input     string
		output    string
		success   int
		sensitive int
		createdAt string
		prev      sql.NullString
	)
	if err := sc.Scan(
		&e.ID, &e.ServerID, &e.Tool, &input, &output,
		&success, &e.DurationMs, &e.ErrorCode, &e.ErrorMessage,
		&e.SessionID, &e.WorkspaceID, &e.ActorType, &e.ActorID, &e.ActorIP,
		&e.AgentType, &e.PlanSlug, &sensitive, &createdAt, &prev, &e.EntryHash,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(input), &e.InputParams); err != nil {
		return nil, fmt.Errorf("decoding input params of entry %d: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(output), &e.OutputSummary); err != nil {
		return nil, fmt.Errorf("decoding output summary of entry %d: %w", e.ID, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of entry %d: %w", e.ID, err)
	}
	e.CreatedAt = ts
	e.Success = success != 0
	e.Sensitive = sensitive != 0
	if prev.Valid {
		p := prev.String
		e.PreviousHash = &p
	}
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ audit.ChainStore = (*ChainStore)(nil)
