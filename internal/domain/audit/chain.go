// Package audit implements a hash-chained, tamper-evident log of tool
// calls. Each entry's hash covers the previous entry's hash, so any
// mutation of a persisted row is detectable by re-walking the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toolgate-io/toolgate/internal/domain/redact"
)

// DefaultSensitivityTTL bounds how long per-tool sensitivity metadata is
// cached before being re-read from the store.
const DefaultSensitivityTTL = 5 * time.Minute

// DefaultVerifyChunk is the row batch size used by VerifyChain.
const DefaultVerifyChunk = 500

// sensCacheEntry is one cached sensitivity lookup.
type sensCacheEntry struct {
	sens      *Sensitivity
	expiresAt time.Time
}

// Chain appends redacted, hash-linked entries to a ChainStore.
// Appends are serialized through a single writer lock so two concurrent
// writers can never read the same previous hash and fork the chain.
type Chain struct {
	store         ChainStore
	sensitivities SensitivityStore
	logger        *slog.Logger

	verifyChunk int

	writeMu sync.Mutex

	cacheMu   sync.Mutex
	sensCache map[string]sensCacheEntry
	sensTTL   time.Duration
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSensitivityTTL overrides the sensitivity cache TTL.
func WithSensitivityTTL(ttl time.Duration) ChainOption {
	return func(c *Chain) {
		if ttl > 0 {
			c.sensTTL = ttl
		}
	}
}

// WithVerifyChunk overrides the verification batch size.
func WithVerifyChunk(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.verifyChunk = n
		}
	}
}

// NewChain creates an audit chain over the given store. sensitivities may
// be nil, in which case only the default redaction set applies.
func NewChain(store ChainStore, sensitivities SensitivityStore, logger *slog.Logger, opts ...ChainOption) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{
		store:         store,
		sensitivities: sensitivities,
		logger:        logger,
		verifyChunk:   DefaultVerifyChunk,
		sensCache:     make(map[string]sensCacheEntry),
		sensTTL:       DefaultSensitivityTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record redacts the call's parameters and appends a new chained entry.
// The append reads the current tail hash, inserts the row, computes the
// entry hash over all fields including the assigned id, and backfills it.
func (c *Chain) Record(ctx context.Context, rec CallRecord) (*Entry, error) {
	sens := c.sensitivity(ctx, rec.Tool)

	var extra []string
	sensitive := false
	if sens != nil {
		extra = sens.RedactFields
		sensitive = sens.Sensitive
	}
	r := redact.New(redact.WithExtraSensitiveKeys(extra...))

	entry := &Entry{
		ServerID:      rec.ServerID,
		Tool:          rec.Tool,
		InputParams:   r.RedactMap(rec.InputParams),
		OutputSummary: summarizeMap(r, rec.OutputSummary),
		Success:       rec.Success,
		DurationMs:    rec.DurationMs,
		ErrorCode:     rec.ErrorCode,
		ErrorMessage:  rec.ErrorMessage,
		SessionID:     rec.SessionID,
		WorkspaceID:   rec.WorkspaceID,
		ActorType:     rec.ActorType,
		ActorID:       rec.ActorID,
		ActorIP:       rec.ActorIP,
		AgentType:     rec.AgentType,
		PlanSlug:      rec.PlanSlug,
		Sensitive:     sensitive,
		CreatedAt:     time.Now().UTC(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	last, err := c.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain tail: %w", err)
	}
	if last != nil {
		prev := last.EntryHash
		entry.PreviousHash = &prev
	}

	id, err := c.store.Insert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("inserting audit entry: %w", err)
	}
	entry.ID = id

	hash, err := entryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("hashing audit entry %d: %w", id, err)
	}
	entry.EntryHash = hash

	if err := c.store.SetHash(ctx, id, hash); err != nil {
		return nil, fmt.Errorf("backfilling hash on entry %d: %w", id, err)
	}
	return entry, nil
}

// sensitivity resolves the tool's sensitivity metadata through the cache.
// Lookup failures fall back to the default redaction set rather than
// blocking the append.
func (c *Chain) sensitivity(ctx context.Context, tool string) *Sensitivity {
	if c.sensitivities == nil {
		return nil
	}

	c.cacheMu.Lock()
	cached, ok := c.sensCache[tool]
	c.cacheMu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.sens
	}

	sens, err := c.sensitivities.Get(ctx, tool)
	if err != nil {
		c.logger.Warn("sensitivity lookup failed, using defaults", "tool", tool, "error", err)
		return nil
	}

	c.cacheMu.Lock()
	c.sensCache[tool] = sensCacheEntry{sens: sens, expiresAt: time.Now().Add(c.sensTTL)}
	c.cacheMu.Unlock()
	return sens
}

// summarizeMap applies summarize-mode redaction to the output map.
func summarizeMap(r *redact.Redactor, m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := r.Summarize(m).(map[string]any)
	return out
}

// entryHash computes the sha256 over the entry's canonical serialization.
// The serialization joins every field in a fixed order; parameter maps are
// JSON-encoded, which sorts keys deterministically.
func entryHash(e *Entry) (string, error) {
	input, err := json.Marshal(e.InputParams)
	if err != nil {
		return "", fmt.Errorf("encoding input params: %w", err)
	}
	output, err := json.Marshal(e.OutputSummary)
	if err != nil {
		return "", fmt.Errorf("encoding output summary: %w", err)
	}

	prev := ""
	if e.PreviousHash != nil {
		prev = *e.PreviousHash
	}

	fields := []string{
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
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes the entry's hash and compares it to the stored one.
func VerifyHash(e *Entry) (bool, error) {
	hash, err := entryHash(e)
	if err != nil {
		return false, err
	}
	return hash == e.EntryHash, nil
}

// VerifyChain re-walks entries with id in [fromID, toID] (toID zero meaning
// the end of the log) in bounded chunks, recomputing each hash and checking
// every previous-hash link. It never mutates data.
func (c *Chain) VerifyChain(ctx context.Context, fromID, toID int64) (*VerifyResult, error) {
	result := &VerifyResult{Valid: true}

	total, err := c.store.Count(ctx, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	result.Total = total
	if total == 0 {
		return result, nil
	}

	minID, err := c.store.MinID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading first id: %w", err)
	}

	var prev *Entry
	cursor := fromID
	for {
		batch, err := c.store.Range(ctx, cursor, toID, c.verifyChunk)
		if err != nil {
			return nil, fmt.Errorf("reading entries from id %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			e := &batch[i]

			ok, err := VerifyHash(e)
			if err != nil {
				return nil, fmt.Errorf("verifying entry %d: %w", e.ID, err)
			}
			if !ok {
				expected, _ := entryHash(e)
				result.Valid = false
				result.Issues = append(result.Issues, VerifyIssue{
					ID:       e.ID,
					Type:     IssueHashMismatch,
					Message:  "stored hash does not match recomputed hash",
					Expected: expected,
					Actual:   e.EntryHash,
				})
			}

			if issue := c.checkLink(ctx, e, prev, minID); issue != nil {
				result.Valid = false
				result.Issues = append(result.Issues, *issue)
			}

			result.Verified++
			prev = e
		}

		cursor = batch[len(batch)-1].ID + 1
		if toID > 0 && cursor > toID {
			break
		}
	}
	return result, nil
}

// checkLink validates one entry's previous-hash link. The first entry of
// the requested range links to the row immediately before it, or must be
// unlinked when it is the first row overall.
func (c *Chain) checkLink(ctx context.Context, e, prev *Entry, minID int64) *VerifyIssue {
	if prev == nil {
		if e.ID == minID {
			if e.PreviousHash != nil {
				return &VerifyIssue{
					ID:      e.ID,
					Type:    IssueChainBreak,
					Message: "first entry has a previous hash",
					Actual:  *e.PreviousHash,
				}
			}
			return nil
		}

		// Range starts mid-log; link against the preceding row.
		before, err := c.precedingEntry(ctx, e.ID)
		if err != nil || before == nil {
			c.logger.Warn("could not load entry preceding range", "id", e.ID, "error", err)
			return nil
		}
		prev = before
	}

	if e.PreviousHash == nil {
		return &VerifyIssue{
			ID:       e.ID,
			Type:     IssueChainBreak,
			Message:  fmt.Sprintf("entry has no previous hash but follows entry %d", prev.ID),
			Expected: prev.EntryHash,
		}
	}
	if *e.PreviousHash != prev.EntryHash {
		return &VerifyIssue{
			ID:       e.ID,
			Type:     IssueChainBreak,
			Message:  fmt.Sprintf("previous hash does not match hash of entry %d", prev.ID),
			Expected: prev.EntryHash,
			Actual:   *e.PreviousHash,
		}
	}
	return nil
}

// precedingEntry returns the entry with the highest id strictly below id.
func (c *Chain) precedingEntry(ctx context.Context, id int64) (*Entry, error) {
	minID, err := c.store.MinID(ctx)
	if err != nil {
		return nil, err
	}
	if id <= minID {
		return nil, nil
	}

	// Ids may have gaps; scan the window just below id.
	batch, err := c.store.Range(ctx, minID, id-1, c.verifyChunk)
	if err != nil {
		return nil, err
	}
	var last *Entry
	for len(batch) > 0 {
		last = &batch[len(batch)-1]
		next, err := c.store.Range(ctx, last.ID+1, id-1, c.verifyChunk)
		if err != nil {
			return nil, err
		}
		batch = next
	}
	return last, nil
}
