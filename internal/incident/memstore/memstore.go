// Package memstore provides an in-memory implementation of incident.Store.
// Suitable for dev/testing; vector search is a brute-force cosine scan.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// Store holds incidents, memory items, audit entries and notification
// records in memory.
type Store struct {
	mu            sync.RWMutex
	incidents     map[int64]*incident.Incident
	memories      map[string]*incident.MemoryItem
	audits        []incident.AuditEntry
	notifications []incident.NotificationRecord
	nextAuditID   int64
	nextNotifID   int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[int64]*incident.Incident),
		memories:  make(map[string]*incident.MemoryItem),
	}
}

// PutIncident seeds an incident row. Test/dev helper; production rows are
// created upstream.
func (s *Store) PutIncident(in *incident.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.incidents[in.ID] = &cp
}

// GetIncident fetches an incident by id. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id int64) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := *in
	return &cp, true, nil
}

// UpdateStatus overwrites the incident status.
func (s *Store) UpdateStatus(_ context.Context, id int64, status incident.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.incidents[id]
	if !ok {
		return incident.ErrNotFound
	}
	in.Status = status
	return nil
}

// AppendAudit appends one audit entry.
func (s *Store) AppendAudit(_ context.Context, e *incident.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	cp := *e
	cp.ID = s.nextAuditID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.audits = append(s.audits, cp)
	return nil
}

// Audits returns copies of all audit entries for an incident, in append
// order. Test helper.
func (s *Store) Audits(incidentID int64) []incident.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []incident.AuditEntry
	for _, e := range s.audits {
		if e.IncidentID == incidentID {
			out = append(out, e)
		}
	}
	return out
}

// UpsertMemory inserts or updates a memory item, preserving any existing
// non-empty solution.
func (s *Store) UpsertMemory(_ context.Context, m *incident.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cp := *m
	if prev, ok := s.memories[m.ID]; ok {
		if prev.Solution != "" {
			cp.Solution = prev.Solution
		}
		cp.CreatedAt = prev.CreatedAt
		cp.UpdatedAt = now
	} else {
		cp.CreatedAt = now
		cp.UpdatedAt = now
	}
	s.memories[m.ID] = &cp
	return nil
}

// GetMemory fetches a memory item by id. Returns a copy. Test helper.
func (s *Store) GetMemory(id string) (*incident.MemoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// SetSolution sets the solution on an existing memory item.
func (s *Store) SetSolution(_ context.Context, id string, solution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return incident.ErrNotFound
	}
	m.Solution = solution
	m.UpdatedAt = time.Now()
	return nil
}

// InsertNotification appends one delivery record.
func (s *Store) InsertNotification(_ context.Context, n *incident.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotifID++
	cp := *n
	cp.ID = s.nextNotifID
	if cp.SentAt.IsZero() {
		cp.SentAt = time.Now()
	}
	s.notifications = append(s.notifications, cp)
	return nil
}

// Notifications returns copies of all delivery records for an incident.
// Test helper.
func (s *Store) Notifications(incidentID int64) []incident.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []incident.NotificationRecord
	for _, n := range s.notifications {
		if n.IncidentID == incidentID {
			out = append(out, n)
		}
	}
	return out
}

// SearchMemoryVectors scans all embedded memory items and returns the
// nearest by cosine similarity above threshold.
func (s *Store) SearchMemoryVectors(_ context.Context, vec []float32, threshold float64, limit int) ([]incident.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []incident.Match
	for _, m := range s.memories {
		if len(m.Embedding) == 0 {
			continue
		}
		sim := cosine(vec, m.Embedding)
		if sim <= threshold {
			continue
		}
		out = append(out, incident.Match{
			ID:           m.ID,
			Summary:      m.Summary,
			Labels:       append([]string(nil), m.Labels...),
			Service:      m.Service,
			IncidentType: m.IncidentType,
			Solution:     m.Solution,
			Similarity:   sim,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchMemoryFallback returns solved memory items by exact service match
// or label overlap, most recently updated first.
func (s *Store) SearchMemoryFallback(_ context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error) {
	return s.filterMemories(service, labels, limit, true), nil
}

// ListRecentMemory returns memory items with optional service/label
// filters, most recently updated first.
func (s *Store) ListRecentMemory(_ context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error) {
	return s.filterMemories(service, labels, limit, false), nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) filterMemories(service string, labels []string, limit int, solvedOnly bool) []incident.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []incident.MemoryItem
	for _, m := range s.memories {
		if solvedOnly && m.Solution == "" {
			continue
		}
		if (service != "" || len(labels) > 0) && !matches(m, service, labels) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matches(m *incident.MemoryItem, service string, labels []string) bool {
	if service != "" && m.Service == service {
		return true
	}
	for _, want := range labels {
		for _, have := range m.Labels {
			if want == have {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
