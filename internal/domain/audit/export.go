package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportOptions configures a chain export.
type ExportOptions struct {
	FromID int64
	ToID   int64
	// Verify embeds a fresh chain verification summary so the export is
	// self-certifying.
	Verify bool
}

// jsonExport is the envelope written by ExportJSON.
type jsonExport struct {
	ExportedAt   time.Time     `json:"exported_at"`
	Entries      []Entry       `json:"entries"`
	Verification *VerifyResult `json:"verification,omitempty"`
}

// ExportJSON writes entries in the requested range as a JSON document.
// Entries are already redacted; export never touches raw parameters.
func (c *Chain) ExportJSON(ctx context.Context, w io.Writer, opts ExportOptions) error {
	doc := jsonExport{ExportedAt: time.Now().UTC(), Entries: []Entry{}}

	if err := c.walk(ctx, opts, func(e Entry) error {
		doc.Entries = append(doc.Entries, e)
		return nil
	}); err != nil {
		return err
	}

	if opts.Verify {
		vr, err := c.VerifyChain(ctx, opts.FromID, opts.ToID)
		if err != nil {
			return fmt.Errorf("verifying chain for export: %w", err)
		}
		doc.Verification = vr
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "server_id", "tool", "input_params", "output_summary",
	"success", "duration_ms", "error_code", "error_message",
	"session_id", "workspace_id", "actor_type", "actor_id", "actor_ip",
	"agent_type", "plan_slug", "sensitive", "created_at",
	"previous_hash", "entry_hash",
}

// ExportCSV writes entries in the requested range as CSV. When opts.Verify
// is set, a trailing comment-style row carries the verification summary.
func (c *Chain) ExportCSV(ctx context.Context, w io.Writer, opts ExportOptions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if err := c.walk(ctx, opts, func(e Entry) error {
		input, err := json.Marshal(e.InputParams)
		if err != nil {
			return fmt.Errorf("encoding input params of entry %d: %w", e.ID, err)
		}
		output, err := json.Marshal(e.OutputSummary)
		if err != nil {
			return fmt.Errorf("encoding output summary of entry %d: %w", e.ID, err)
		}
		prev := ""
		if e.PreviousHash != nil {
			prev = *e.PreviousHash
		}
		return cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.ServerID,
			e.Tool,
			string(input),
			string(output),
			strconv.FormatBool(e.Success),
			strconv.FormatInt(e.DurationMs, 10),
			e.ErrorCode,
			e.ErrorMessage,
			e.SessionID,
			e.WorkspaceID,
			e.ActorType,
			e.ActorID,
			e.ActorIP,
			e.AgentType,
			e.PlanSlug,
			strconv.FormatBool(e.Sensitive),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			prev,
			e.EntryHash,
		})
	}); err != nil {
		return err
	}

	if opts.Verify {
		vr, err := c.VerifyChain(ctx, opts.FromID, opts.ToID)
		if err != nil {
			return fmt.Errorf("verifying chain for export: %w", err)
		}
		summary := fmt.Sprintf("# verification: valid=%t total=%d verified=%d issues=%d",
			vr.Valid, vr.Total, vr.Verified, len(vr.Issues))
		if err := cw.Write([]string{summary}); err != nil {
			return fmt.Errorf("writing verification summary: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// walk streams entries in the requested range in chunks.
func (c *Chain) walk(ctx context.Context, opts ExportOptions, fn func(Entry) error) error {
	cursor := opts.FromID
	for {
		batch, err := c.store.Range(ctx, cursor, opts.ToID, c.verifyChunk)
		if err != nil {
			return fmt.Errorf("reading entries from id %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, e := range batch {
			if err := fn(e); err != nil {
				return err
			}
		}
		cursor = batch[len(batch)-1].ID + 1
		if opts.ToID > 0 && cursor > opts.ToID {
			return nil
		}
	}
}
