package audit

import "context"

// ChainStore persists chained audit entries in id order.
type ChainStore interface {
	// Last returns the entry with the highest id, or nil when the log is empty.
	Last(ctx context.Context) (*Entry, error)
	// Insert persists a new entry and returns its assigned id.
	Insert(ctx context.Context, e *Entry) (int64, error)
	// SetHash backfills the computed hash onto an inserted row. The write
	// must not alter any other field of the row.
	SetHash(ctx context.Context, id int64, hash string) error
	// Range returns up to limit entries with id >= fromID and id <= toID
	// in ascending id order. A toID of zero means no upper bound.
	Range(ctx context.Context, fromID, toID int64, limit int) ([]Entry, error)
	// Count returns the number of entries with id in [fromID, toID],
	// toID zero meaning no upper bound.
	Count(ctx context.Context, fromID, toID int64) (int64, error)
	// MinID returns the smallest id in the log, or 0 when empty.
	MinID(ctx context.Context) (int64, error)
}

// SensitivityStore resolves per-tool sensitivity metadata.
type SensitivityStore interface {
	// Get returns the tool's sensitivity metadata, or nil when the tool
	// has none registered.
	Get(ctx context.Context, tool string) (*Sensitivity, error)
}
