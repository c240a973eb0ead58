// Package pipeline orchestrates one incident's run: fetch, retrieve,
// analyze, notify, persist. One incident is fully processed before the
// next is dequeued; a failure aborts only the current incident.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/retrieval"
)

const (
	// DefaultTopK is the number of similar incidents retrieved per run.
	DefaultTopK = 3

	// maxEvidenceQuery bounds the evidence excerpt used as query text
	// when the incident has no summary.
	maxEvidenceQuery = 400

	actorAgent = "agent"
)

// Retriever finds similar historical incidents.
type Retriever interface {
	Search(ctx context.Context, q retrieval.Query, topK int) retrieval.Result
}

// Analyzer produces a root-cause analysis. Never fails; degraded results
// carry low confidence.
type Analyzer interface {
	Analyze(ctx context.Context, in *incident.Incident, related []incident.Match) *incident.AnalysisResult
}

// Notifier classifies, routes and delivers notifications.
type Notifier interface {
	Classify(in *incident.Incident) string
	Notify(ctx context.Context, in *incident.Incident, incidentType string, analysis *incident.AnalysisResult, related []incident.Match) (incident.RoutingDecision, bool)
}

// Pipeline processes incidents end to end.
type Pipeline struct {
	store     incident.Store
	retriever Retriever
	analyzer  Analyzer
	notifier  Notifier
	topK      int
	metrics   *Metrics
	logger    log.Logger
}

// New creates a pipeline. Zero topK gets DefaultTopK; metrics may be nil.
func New(store incident.Store, retriever Retriever, analyzer Analyzer, notifier Notifier, topK int, metrics *Metrics, logger log.Logger) *Pipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		store:     store,
		retriever: retriever,
		analyzer:  analyzer,
		notifier:  notifier,
		topK:      topK,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle processes one incident id. Safe to run more than once for the
// same id: the status write is an overwrite and the memory write is an
// upsert. A returned error means the store was unreachable; degraded
// retrieval and analysis are not errors.
func (p *Pipeline) Handle(ctx context.Context, incidentID int64) error {
	start := time.Now()
	L := p.logger.With("incident_id", incidentID)

	outcome, err := p.run(ctx, L, incidentID)
	p.observe(outcome, time.Since(start))
	if err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, L log.Logger, incidentID int64) (string, error) {
	in, ok, err := p.store.GetIncident(ctx, incidentID)
	if err != nil {
		return "store_error", fmt.Errorf("fetch incident %d: %w", incidentID, err)
	}
	if !ok {
		L.Warn(ctx, "no incident row, dropping event")
		return "not_found", nil
	}

	query := queryText(in)
	result := p.retriever.Search(ctx, retrieval.Query{
		Text:    query,
		Service: in.Service(),
		Labels:  in.Labels,
	}, p.topK)
	if p.metrics != nil {
		p.metrics.RetrievalResults.Observe(float64(len(result.Items)))
		if result.Fallback {
			p.metrics.RetrievalFallbacks.Inc()
		}
	}

	analysisStart := time.Now()
	analysis := p.analyzer.Analyze(ctx, in, result.Items)
	if p.metrics != nil {
		p.metrics.AnalysisDuration.Observe(time.Since(analysisStart).Seconds())
	}

	incidentType := p.notifier.Classify(in)
	decision, delivered := p.notifier.Notify(ctx, in, incidentType, analysis, result.Items)
	if p.metrics != nil {
		res := "delivered"
		if !delivered {
			res = "failed"
		}
		p.metrics.NotificationsTotal.WithLabelValues(res).Inc()
	}
	if !delivered {
		// delivery failure was audited by the router; abort this incident
		return "send_failed", nil
	}

	if err := p.store.UpdateStatus(ctx, in.ID, incident.StatusNotified); err != nil {
		return "store_error", fmt.Errorf("update status for incident %d: %w", in.ID, err)
	}

	details, merr := json.Marshal(map[string]any{"ai_summary": analysis.Summary, "channel": decision.Channel})
	if merr != nil {
		details = []byte(`{}`)
	}
	if err := p.store.AppendAudit(ctx, &incident.AuditEntry{
		IncidentID: in.ID,
		Actor:      actorAgent,
		Action:     "notified",
		Details:    details,
	}); err != nil {
		return "store_error", fmt.Errorf("append audit for incident %d: %w", in.ID, err)
	}

	mem := &incident.MemoryItem{
		ID:           strconv.FormatInt(in.ID, 10),
		Summary:      in.SummaryText,
		Labels:       in.Labels,
		Service:      in.Service(),
		IncidentType: incidentType,
		Embedding:    result.QueryVec,
	}
	if err := p.store.UpsertMemory(ctx, mem); err != nil {
		return "store_error", fmt.Errorf("upsert memory for incident %d: %w", in.ID, err)
	}

	L.Info(ctx, "incident notified",
		"incident_type", incidentType,
		"channel", decision.Channel,
		"team", decision.Team,
		"related", len(result.Items),
		"confidence", string(analysis.Confidence),
	)
	return "notified", nil
}

func (p *Pipeline) observe(outcome string, dur time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.IncidentsTotal.WithLabelValues(outcome).Inc()
	p.metrics.PipelineDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

// queryText picks the retrieval query: the summary, else a bounded
// evidence payload excerpt, else a synthetic marker.
func queryText(in *incident.Incident) string {
	if in.SummaryText != "" {
		return in.SummaryText
	}
	if payload := in.EvidencePayload(); payload != "" {
		if len(payload) > maxEvidenceQuery {
			return payload[:maxEvidenceQuery]
		}
		return payload
	}
	return fmt.Sprintf("incident %d", in.ID)
}
