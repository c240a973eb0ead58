// Package incident defines the domain types shared by the notification
// pipeline and the action-callback API.
package incident

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced incident or memory item does
// not exist in the store.
var ErrNotFound = errors.New("incident: not found")

// Status tracks where an incident is in its lifecycle. Transitions are
// deliberately permissive: UpdateStatus is a plain overwrite and nothing
// prevents, say, a resolved incident from being re-acknowledged.
type Status string

const (
	// StatusOpen means created upstream, not yet handled.
	StatusOpen Status = "open"

	// StatusNotified means a notification for this incident was delivered.
	StatusNotified Status = "notified"

	// StatusAcknowledged means an operator acknowledged the notification.
	StatusAcknowledged Status = "acknowledged"

	// StatusNeedsInfo means an operator asked for more information.
	StatusNeedsInfo Status = "needs_info"

	// StatusResolved means an operator marked the incident resolved.
	StatusResolved Status = "resolved"
)

// Incident is a single detected security/reliability event under triage.
// Rows are created upstream; this system only overwrites status.
type Incident struct {
	ID           int64           `json:"id"`
	EventID      string          `json:"event_id"`
	Labels       []string        `json:"labels"`
	SummaryText  string          `json:"summary_text"`
	AnomalyScore float64         `json:"anomaly_score"`
	Confidence   float64         `json:"confidence"`
	Evidence     json.RawMessage `json:"evidence,omitempty"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Service extracts the service name from the evidence blob, if present.
func (in *Incident) Service() string {
	if len(in.Evidence) == 0 {
		return ""
	}
	var ev struct {
		Service string `json:"service"`
	}
	if err := json.Unmarshal(in.Evidence, &ev); err != nil {
		return ""
	}
	return ev.Service
}

// EvidencePayload extracts the raw payload string from the evidence blob.
func (in *Incident) EvidencePayload() string {
	if len(in.Evidence) == 0 {
		return ""
	}
	var ev struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(in.Evidence, &ev); err != nil {
		return ""
	}
	return ev.Payload
}

// MemoryItem is a stored, embeddable record of a past incident usable for
// retrieval, optionally annotated with a human-curated solution. The ID is
// the originating incident id rendered as a string.
type MemoryItem struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Labels       []string  `json:"labels"`
	Service      string    `json:"service"`
	IncidentType string    `json:"incident_type"`
	Solution     string    `json:"solution,omitempty"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasSolution reports whether a non-empty solution has been recorded.
func (m *MemoryItem) HasSolution() bool {
	return m.Solution != ""
}

// Confidence is the model's self-reported confidence in an analysis.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RootCause is one ranked root-cause hypothesis with remediation steps.
type RootCause struct {
	Cause    string   `json:"cause"`
	Fixes    []string `json:"fixes"`
	Rollback string   `json:"rollback"`
}

// AnalysisResult is the structured outcome of an LLM analysis. Both parse
// and transport failures degrade into a valid AnalysisResult, so callers
// never see a nil result.
type AnalysisResult struct {
	Summary    string      `json:"summary"`
	RootCauses []RootCause `json:"root_causes"`
	Confidence Confidence  `json:"confidence"`
}

// RoutingDecision maps an incident type to a destination channel and
// owning team.
type RoutingDecision struct {
	IncidentType string `json:"incident_type"`
	Team         string `json:"team"`
	Channel      string `json:"channel"`
}

// AuditEntry is an immutable record of who/what changed an incident's
// state and why. Append-only.
type AuditEntry struct {
	ID         int64           `json:"id"`
	IncidentID int64           `json:"incident_id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NotificationRecord is an append-only record of a delivered notification,
// including the provider's response metadata.
type NotificationRecord struct {
	ID              int64           `json:"id"`
	IncidentID      int64           `json:"incident_id"`
	Channel         string          `json:"channel"`
	Payload         json.RawMessage `json:"payload"`
	ProviderChannel string          `json:"provider_channel"`
	ProviderTS      string          `json:"provider_ts"`
	Status          string          `json:"status"`
	SentAt          time.Time       `json:"sent_at"`
}

// Match is a memory item scored against a retrieval query.
type Match struct {
	ID           string   `json:"incident_id"`
	Summary      string   `json:"summary"`
	Labels       []string `json:"labels"`
	Service      string   `json:"service"`
	IncidentType string   `json:"incident_type"`
	Solution     string   `json:"solution,omitempty"`
	Similarity   float64  `json:"similarity"`
}

// HasSolution reports whether the matched item carries a solution.
func (m *Match) HasSolution() bool {
	return m.Solution != ""
}
