package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

func record(t *testing.T, c *audit.Chain, tool string, params map[string]any) *audit.Entry {
	t.Helper()
	entry, err := c.Record(context.Background(), audit.CallRecord{
		ServerID:    "srv",
		Tool:        tool,
		InputParams: params,
		Success:     true,
		DurationMs:  12,
		SessionID:   "sess-1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return entry
}

func TestRecordLinksEntries(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default())

	first := record(t, c, "search", map[string]any{"query": "docs"})
	second := record(t, c, "fetch", map[string]any{"id": "123"})
	third := record(t, c, "search", nil)

	if first.PreviousHash != nil {
		t.Errorf("first entry PreviousHash = %v, want nil", *first.PreviousHash)
	}
	if second.PreviousHash == nil || *second.PreviousHash != first.EntryHash {
		t.Error("second entry does not link to first entry's hash")
	}
	if third.PreviousHash == nil || *third.PreviousHash != second.EntryHash {
		t.Error("third entry does not link to second entry's hash")
	}

	for _, e := range []*audit.Entry{first, second, third} {
		ok, err := audit.VerifyHash(e)
		if err != nil {
			t.Fatalf("VerifyHash(%d): %v", e.ID, err)
		}
		if !ok {
			t.Errorf("entry %d hash does not verify", e.ID)
		}
	}
}

func TestRecordRedactsParams(t *testing.T) {
	c := audit.NewChain(memory.NewChainStore(), nil, slog.Default())

	entry := record(t, c, "login", map[string]any{
		"username": "alice",
		"password": "hunter2",
		"email":    "alice@example.com",
	})

	if got := entry.InputParams["password"]; got != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", got)
	}
	if got := entry.InputParams["email"]; got == "alice@example.com" {
		t.Error("email stored unmasked")
	}
	if got := entry.InputParams["username"]; got != "alice" {
		t.Errorf("username = %v, want untouched", got)
	}
}

func TestRecordAppliesSensitivityMetadata(t *testing.T) {
	sens := memory.NewSensitivityStore()
	sens.Set("export", audit.Sensitivity{
		Sensitive:    true,
		RedactFields: []string{"customer_ref"},
	})
	c := audit.NewChain(memory.NewChainStore(), sens, slog.Default())

	entry := record(t, c, "export", map[string]any{"customer_ref": "cr-9981"})
	if !entry.Sensitive {
		t.Error("entry not flagged sensitive")
	}
	if got := entry.InputParams["customer_ref"]; got != "[REDACTED]" {
		t.Errorf("customer_ref = %v, want [REDACTED] via extra keys", got)
	}

	// Tools without registered metadata use defaults only.
	plain := record(t, c, "search", map[string]any{"customer_ref": "cr-9981"})
	if plain.Sensitive {
		t.Error("unregistered tool flagged sensitive")
	}
	if got := plain.InputParams["customer_ref"]; got != "cr-9981" {
		t.Errorf("customer_ref = %v, want untouched for unregistered tool", got)
	}
}

func TestVerifyChainClean(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default(), audit.WithVerifyChunk(2))

	for i := 0; i < 7; i++ {
		record(t, c, "search", map[string]any{"i": i})
	}

	res, err := c.VerifyChain(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid {
		t.Errorf("Valid = false, issues: %+v", res.Issues)
	}
	if res.Total != 7 || res.Verified != 7 {
		t.Errorf("Total = %d, Verified = %d, want 7/7", res.Total, res.Verified)
	}
}

func TestVerifyChainDetectsFieldTamper(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default())

	record(t, c, "search", nil)
	target := record(t, c, "fetch", nil)
	record(t, c, "search", nil)

	if err := store.Tamper(target.ID, func(e *audit.Entry) {
		e.Success = false
	}); err != nil {
		t.Fatalf("Tamper: %v", err)
	}

	res, err := c.VerifyChain(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if len(res.Issues) != 1 {
		t.Fatalf("Issues = %+v, want exactly one", res.Issues)
	}
	issue := res.Issues[0]
	if issue.ID != target.ID || issue.Type != audit.IssueHashMismatch {
		t.Errorf("issue = %+v, want hash_mismatch on entry %d", issue, target.ID)
	}
}

func TestVerifyChainDetectsRelink(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default())

	first := record(t, c, "search", nil)
	record(t, c, "fetch", nil)
	third := record(t, c, "search", nil)

	// Point the third entry past its predecessor, as if the middle entry
	// had been cut out of the log.
	if err := store.Tamper(third.ID, func(e *audit.Entry) {
		prev := first.EntryHash
		e.PreviousHash = &prev
	}); err != nil {
		t.Fatalf("Tamper: %v", err)
	}

	res, err := c.VerifyChain(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid {
		t.Fatal("relinked chain reported valid")
	}
	foundBreak := false
	for _, issue := range res.Issues {
		if issue.ID == third.ID && issue.Type == audit.IssueChainBreak {
			foundBreak = true
		}
	}
	if !foundBreak {
		t.Errorf("Issues = %+v, want chain_break on entry %d", res.Issues, third.ID)
	}
}

func TestVerifyChainDetectsNilPrevMidChain(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default())

	record(t, c, "search", nil)
	second := record(t, c, "fetch", nil)

	if err := store.Tamper(second.ID, func(e *audit.Entry) {
		e.PreviousHash = nil
	}); err != nil {
		t.Fatalf("Tamper: %v", err)
	}

	res, err := c.VerifyChain(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid {
		t.Fatal("chain with severed link reported valid")
	}
	foundBreak := false
	for _, issue := range res.Issues {
		if issue.ID == second.ID && issue.Type == audit.IssueChainBreak {
			foundBreak = true
		}
	}
	if !foundBreak {
		t.Errorf("Issues = %+v, want chain_break on entry %d", res.Issues, second.ID)
	}
}

func TestVerifyChainMidRange(t *testing.T) {
	store := memory.NewChainStore()
	c := audit.NewChain(store, nil, slog.Default(), audit.WithVerifyChunk(2))

	var ids []int64
	for i := 0; i < 6; i++ {
		ids = append(ids, record(t, c, "search", map[string]any{"i": i}).ID)
	}

	// A range starting mid-log must link its first entry against the row
	// before the range.
	res, err := c.VerifyChain(context.Background(), ids[2], ids[4])
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid {
		t.Errorf("mid-range verify invalid, issues: %+v", res.Issues)
	}
	if res.Total != 3 || res.Verified != 3 {
		t.Errorf("Total = %d, Verified = %d, want 3/3", res.Total, res.Verified)
	}
}

func TestVerifyChainEmpty(t *testing.T) {
	c := audit.NewChain(memory.NewChainStore(), nil, slog.Default())

	res, err := c.VerifyChain(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || res.Total != 0 {
		t.Errorf("empty log verify = %+v, want valid with zero total", res)
	}
}

func TestExportJSON(t *testing.T) {
	c := audit.NewChain(memory.NewChainStore(), nil, slog.Default())
	record(t, c, "search", map[string]any{"query": "docs"})
	record(t, c, "fetch", nil)

	var buf bytes.Buffer
	if err := c.ExportJSON(context.Background(), &buf, audit.ExportOptions{Verify: true}); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var doc struct {
		Entries      []audit.Entry       `json:"entries"`
		Verification *audit.VerifyResult `json:"verification"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(doc.Entries) != 2 {
		t.Errorf("len(Entries) = %d, want 2", len(doc.Entries))
	}
	if doc.Verification == nil || !doc.Verification.Valid {
		t.Errorf("Verification = %+v, want embedded valid result", doc.Verification)
	}
}

func TestExportCSV(t *testing.T) {
	c := audit.NewChain(memory.NewChainStore(), nil, slog.Default())
	record(t, c, "search", map[string]any{"query": "docs"})

	var buf bytes.Buffer
	if err := c.ExportCSV(context.Background(), &buf, audit.ExportOptions{Verify: true}); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + entry + verification trailer:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "id,server_id,tool") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "search") {
		t.Errorf("entry row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "valid=true") {
		t.Errorf("verification trailer = %q", lines[2])
	}
}

func TestExportRange(t *testing.T) {
	c := audit.NewChain(memory.NewChainStore(), nil, slog.Default())
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, record(t, c, "search", nil).ID)
	}

	var buf bytes.Buffer
	if err := c.ExportJSON(context.Background(), &buf, audit.ExportOptions{
		FromID: ids[1], ToID: ids[3],
	}); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var doc struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(doc.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(doc.Entries))
	}
	if doc.Entries[0].ID != ids[1] || doc.Entries[2].ID != ids[3] {
		t.Errorf("range = [%d, %d], want [%d, %d]",
			doc.Entries[0].ID, doc.Entries[2].ID, ids[1], ids[3])
	}
}
