// Package pgstore provides a PostgreSQL implementation of incident.Store
// backed by pgx and pgvector.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/linnemanlabs/beacon/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents, memory items, audit entries and notification
// records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool lifecycle is
// owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const incidentColumns = `id, event_id, labels, summary_text, anomaly_score, confidence, evidence, status, created_at`

// GetIncident fetches an incident row by id.
func (s *Store) GetIncident(ctx context.Context, id int64) (*incident.Incident, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	var (
		in       incident.Incident
		status   string
		evidence []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&in.ID, &in.EventID, &in.Labels, &in.SummaryText, &in.AnomalyScore,
		&in.Confidence, &evidence, &status, &in.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("scan incident: %w", err))
	}
	in.Status = incident.Status(status)
	in.Evidence = json.RawMessage(evidence)
	return &in, true, nil
}

// UpdateStatus overwrites the incident status. Idempotent.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status incident.Status) error {
	ctx, span := s.startSpan(ctx, "pgstore.UpdateStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE incidents SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return spanErr(span, fmt.Errorf("update status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrNotFound
	}
	return nil
}

// AppendAudit appends one immutable audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *incident.AuditEntry) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendAudit", "INSERT")
	defer span.End()

	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (incident_id, actor, action, details) VALUES ($1, $2, $3, $4)`,
		e.IncidentID, e.Actor, e.Action, []byte(details),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert audit: %w", err))
	}
	return nil
}

// UpsertMemory inserts or updates a memory item. An existing solution is
// preserved; a missing embedding never clears a stored one.
func (s *Store) UpsertMemory(ctx context.Context, m *incident.MemoryItem) error {
	ctx, span := s.startSpan(ctx, "pgstore.UpsertMemory", "UPSERT")
	defer span.End()

	var embedding any
	if len(m.Embedding) > 0 {
		embedding = pgvector.NewVector(m.Embedding)
	}
	var solution any
	if m.Solution != "" {
		solution = m.Solution
	}

	query := `INSERT INTO memory_items (id, summary, labels, service, incident_type, solution, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		summary       = EXCLUDED.summary,
		labels        = EXCLUDED.labels,
		service       = EXCLUDED.service,
		incident_type = EXCLUDED.incident_type,
		solution      = COALESCE(memory_items.solution, EXCLUDED.solution),
		embedding     = COALESCE(EXCLUDED.embedding, memory_items.embedding),
		updated_at    = now()`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Summary, m.Labels, m.Service, m.IncidentType, solution, embedding,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert memory: %w", err))
	}
	return nil
}

// SetSolution sets the human-curated solution on a memory item.
func (s *Store) SetSolution(ctx context.Context, id string, solution string) error {
	ctx, span := s.startSpan(ctx, "pgstore.SetSolution", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_items SET solution = $1, updated_at = now() WHERE id = $2`,
		solution, id,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("set solution: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrNotFound
	}
	return nil
}

// InsertNotification appends one delivery record.
func (s *Store) InsertNotification(ctx context.Context, n *incident.NotificationRecord) error {
	ctx, span := s.startSpan(ctx, "pgstore.InsertNotification", "INSERT")
	defer span.End()

	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (incident_id, channel, payload, provider_channel, provider_ts, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.IncidentID, n.Channel, []byte(payload), n.ProviderChannel, n.ProviderTS, n.Status,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert notification: %w", err))
	}
	return nil
}

// SearchMemoryVectors runs a cosine nearest-neighbour query over embedded
// memory items, keeping only rows above the similarity threshold.
func (s *Store) SearchMemoryVectors(ctx context.Context, vec []float32, threshold float64, limit int) ([]incident.Match, error) {
	ctx, span := s.startSpan(ctx, "pgstore.SearchMemoryVectors", "SELECT")
	defer span.End()

	query := `SELECT id, summary, labels, service, incident_type, COALESCE(solution, ''),
		1 - (embedding <=> $1) AS similarity
	FROM memory_items
	WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) > $2
	ORDER BY embedding <=> $1
	LIMIT $3`

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vec), threshold, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("vector query: %w", err))
	}
	defer rows.Close()

	var out []incident.Match
	for rows.Next() {
		var m incident.Match
		if err := rows.Scan(&m.ID, &m.Summary, &m.Labels, &m.Service, &m.IncidentType, &m.Solution, &m.Similarity); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan match: %w", err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate matches: %w", err))
	}
	return out, nil
}

// SearchMemoryFallback returns solved memory items by exact service match
// or label overlap, most recent first.
func (s *Store) SearchMemoryFallback(ctx context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error) {
	ctx, span := s.startSpan(ctx, "pgstore.SearchMemoryFallback", "SELECT")
	defer span.End()

	query := `SELECT ` + memoryColumns + `
	FROM memory_items
	WHERE solution IS NOT NULL AND solution <> ''
	  AND (service = $1 OR labels && $2)
	ORDER BY updated_at DESC
	LIMIT $3`

	rows, err := s.pool.Query(ctx, query, service, labels, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("fallback query: %w", err))
	}
	defer rows.Close()
	return scanMemories(span, rows)
}

// ListRecentMemory returns memory items with optional service/label
// filters, most recent first.
func (s *Store) ListRecentMemory(ctx context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListRecentMemory", "SELECT")
	defer span.End()

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case service != "" || len(labels) > 0:
		query := `SELECT ` + memoryColumns + ` FROM memory_items
		WHERE ($1 <> '' AND service = $1) OR labels && $2
		ORDER BY updated_at DESC LIMIT $3`
		rows, err = s.pool.Query(ctx, query, service, labels, limit)
	default:
		query := `SELECT ` + memoryColumns + ` FROM memory_items ORDER BY updated_at DESC LIMIT $1`
		rows, err = s.pool.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list query: %w", err))
	}
	defer rows.Close()
	return scanMemories(span, rows)
}

const memoryColumns = `id, summary, labels, service, incident_type, COALESCE(solution, ''), created_at, updated_at`

func scanMemories(span trace.Span, rows pgx.Rows) ([]incident.MemoryItem, error) {
	var out []incident.MemoryItem
	for rows.Next() {
		var m incident.MemoryItem
		if err := rows.Scan(&m.ID, &m.Summary, &m.Labels, &m.Service, &m.IncidentType, &m.Solution, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan memory: %w", err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate memories: %w", err))
	}
	return out, nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
