package incident

import "context"

// Store is the persistence interface shared by the pipeline and the
// action-callback API.
type Store interface {
	// GetIncident fetches an incident row by id.
	GetIncident(ctx context.Context, id int64) (*Incident, bool, error)

	// UpdateStatus overwrites the incident status. Idempotent; returns
	// ErrNotFound if the incident row does not exist.
	UpdateStatus(ctx context.Context, id int64, status Status) error

	// AppendAudit appends one immutable audit entry.
	AppendAudit(ctx context.Context, e *AuditEntry) error

	// UpsertMemory inserts or updates the memory item keyed by its id.
	// An existing non-empty solution is never overwritten.
	UpsertMemory(ctx context.Context, m *MemoryItem) error

	// SetSolution sets the solution on the memory item keyed by the
	// incident id. Returns ErrNotFound if no such memory item exists.
	SetSolution(ctx context.Context, id string, solution string) error

	// InsertNotification appends one delivery record.
	InsertNotification(ctx context.Context, n *NotificationRecord) error

	// SearchMemoryVectors returns up to limit memory items nearest to vec
	// by cosine distance, keeping only those with similarity above
	// threshold, ordered most similar first.
	SearchMemoryVectors(ctx context.Context, vec []float32, threshold float64, limit int) ([]Match, error)

	// SearchMemoryFallback returns up to limit solved memory items
	// matching the service exactly or overlapping the label set, most
	// recent first. Used when the vector path is unavailable.
	SearchMemoryFallback(ctx context.Context, service string, labels []string, limit int) ([]MemoryItem, error)

	// ListRecentMemory returns up to limit memory items, optionally
	// filtered by service or label overlap, most recent first.
	ListRecentMemory(ctx context.Context, service string, labels []string, limit int) ([]MemoryItem, error)

	// Ping verifies store connectivity for health reporting.
	Ping(ctx context.Context) error
}
