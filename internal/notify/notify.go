// Package notify classifies incidents, routes them to the owning team's
// channel, builds the actionable notification and delivers it, recording
// delivery metadata and audit entries.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/notify/slack"
)

const (
	// maxSimilar caps the "previous similar incidents" block entries.
	maxSimilar = 3

	// maxSolutionExcerpt bounds solution previews in the message.
	maxSolutionExcerpt = 100

	// maxSummaryExcerpt bounds related-incident summaries in the message.
	maxSummaryExcerpt = 60

	actorAgent = "agent"
)

// Sender delivers a built message to a channel.
type Sender interface {
	PostMessage(ctx context.Context, channel, text string, blocks []map[string]any) (*slack.PostMessageResponse, error)
}

// Recorder is the slice of the store the router needs.
type Recorder interface {
	InsertNotification(ctx context.Context, n *incident.NotificationRecord) error
	AppendAudit(ctx context.Context, e *incident.AuditEntry) error
}

// Router resolves incident types to destinations and delivers
// notifications with one fallback-channel retry.
type Router struct {
	sender   Sender
	store    Recorder
	routes   map[string]incident.RoutingDecision
	fallback incident.RoutingDecision
	logger   log.Logger
}

// NewRouter creates a router with the static routing table. The fallback
// channel receives everything that maps to no known incident type, and
// the one retry after a failed delivery.
func NewRouter(sender Sender, store Recorder, fallbackChannel string, logger log.Logger) *Router {
	if fallbackChannel == "" {
		fallbackChannel = "#incident-alerts"
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{
		sender: sender,
		store:  store,
		routes: map[string]incident.RoutingDecision{
			"sql_injection": {IncidentType: "sql_injection", Team: "appsec", Channel: "#secops-appsec"},
			"xss":           {IncidentType: "xss", Team: "appsec", Channel: "#secops-appsec"},
			"auth_failure":  {IncidentType: "auth_failure", Team: "identity", Channel: "#identity-oncall"},
			"rate_abuse":    {IncidentType: "rate_abuse", Team: "edge", Channel: "#edge-oncall"},
			"performance":   {IncidentType: "performance", Team: "sre", Channel: "#sre-oncall"},
			"crash":         {IncidentType: "crash", Team: "sre", Channel: "#sre-oncall"},
		},
		fallback: incident.RoutingDecision{IncidentType: "default", Team: "triage", Channel: fallbackChannel},
		logger:   logger,
	}
}

// Classify derives an incident type tag from the summary and labels.
func (r *Router) Classify(in *incident.Incident) string {
	text := strings.ToLower(in.SummaryText + " " + strings.Join(in.Labels, " "))
	switch {
	case strings.Contains(text, "sql") || strings.Contains(text, "injection"):
		return "sql_injection"
	case strings.Contains(text, "xss") || strings.Contains(text, "cross-site"):
		return "xss"
	case strings.Contains(text, "auth") || strings.Contains(text, "login") || strings.Contains(text, "credential"):
		return "auth_failure"
	case strings.Contains(text, "ddos") || strings.Contains(text, "rate limit") || strings.Contains(text, "flood"):
		return "rate_abuse"
	case strings.Contains(text, "timeout") || strings.Contains(text, "latency") || strings.Contains(text, "performance"):
		return "performance"
	case strings.Contains(text, "crash") || strings.Contains(text, "panic") || strings.Contains(text, "oom") || strings.Contains(text, "memory"):
		return "crash"
	default:
		return "anomaly"
	}
}

// Route resolves an incident type to a destination. Unmapped types get
// the fallback team and channel, keeping the classified type tag.
func (r *Router) Route(incidentType string) incident.RoutingDecision {
	if d, ok := r.routes[incidentType]; ok {
		return d
	}
	d := r.fallback
	d.IncidentType = incidentType
	return d
}

// Notify routes the classified incident, builds the message and delivers
// it. On a failed delivery it retries exactly once against the fallback
// channel. Returns the routing decision used and whether any delivery
// succeeded.
func (r *Router) Notify(ctx context.Context, in *incident.Incident, incidentType string, analysis *incident.AnalysisResult, related []incident.Match) (incident.RoutingDecision, bool) {
	decision := r.Route(incidentType)
	blocks := BuildBlocks(in, decision, analysis, related)
	text := fmt.Sprintf("Incident %d notification", in.ID)

	if r.send(ctx, decision.Channel, in, text, blocks) {
		return decision, true
	}
	if decision.Channel != r.fallback.Channel {
		r.logger.Warn(ctx, "delivery failed, retrying on fallback channel",
			"incident_id", in.ID, "channel", decision.Channel, "fallback", r.fallback.Channel)
		if r.send(ctx, r.fallback.Channel, in, text, blocks) {
			return r.fallback, true
		}
	}
	return decision, false
}

// Send delivers a built message to one channel, persisting the delivery
// record and audit entry on success and an audit entry on failure. The
// error is swallowed; the return value reports delivery.
func (r *Router) Send(ctx context.Context, channel string, in *incident.Incident, text string, blocks []map[string]any) bool {
	return r.send(ctx, channel, in, text, blocks)
}

func (r *Router) send(ctx context.Context, channel string, in *incident.Incident, text string, blocks []map[string]any) bool {
	resp, err := r.sender.PostMessage(ctx, channel, text, blocks)
	if err != nil {
		r.logger.Error(ctx, err, "notification delivery failed", "incident_id", in.ID, "channel", channel)
		r.audit(ctx, in.ID, "slack_failed", map[string]any{"channel": channel, "error": err.Error()})
		return false
	}

	payload, merr := json.Marshal(map[string]any{"channel": channel, "text": text, "blocks": blocks})
	if merr != nil {
		payload = []byte(`{}`)
	}
	rec := &incident.NotificationRecord{
		IncidentID:      in.ID,
		Channel:         channel,
		Payload:         payload,
		ProviderChannel: resp.Channel,
		ProviderTS:      resp.TS,
		Status:          "sent",
		SentAt:          time.Now(),
	}
	if err := r.store.InsertNotification(ctx, rec); err != nil {
		r.logger.Error(ctx, err, "failed to persist notification record", "incident_id", in.ID)
	}
	r.audit(ctx, in.ID, "slack_sent", map[string]any{"channel": channel, "ts": resp.TS})
	return true
}

func (r *Router) audit(ctx context.Context, incidentID int64, action string, details map[string]any) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte(`{}`)
	}
	e := &incident.AuditEntry{
		IncidentID: incidentID,
		Actor:      actorAgent,
		Action:     action,
		Details:    detailsJSON,
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.logger.Error(ctx, err, "failed to append audit entry", "incident_id", incidentID, "action", action)
	}
}

// BuildBlocks renders the ordered Block Kit message: header, AI summary,
// root causes, similar incidents and the three action buttons.
func BuildBlocks(in *incident.Incident, decision incident.RoutingDecision, analysis *incident.AnalysisResult, related []incident.Match) []map[string]any {
	id := strconv.FormatInt(in.ID, 10)

	header := fmt.Sprintf("*Incident #%s* - %s\n*Team:* %s  *Type:* %s",
		id, in.SummaryText, decision.Team, decision.IncidentType)

	var causes strings.Builder
	for i, c := range analysis.RootCauses {
		fmt.Fprintf(&causes, "*%d.* %s - fixes: %s\n", i+1, c.Cause, strings.Join(c.Fixes, ", "))
	}
	causesText := causes.String()
	if causesText == "" {
		causesText = "No causes suggested."
	}

	blocks := []map[string]any{
		section(header),
		section("*AI Summary:* " + analysis.Summary),
		section("*Root causes & fixes:*\n" + causesText),
	}

	if len(related) > 0 {
		var b strings.Builder
		b.WriteString("*Previous Similar Incidents:*\n")
		for i, m := range related {
			if i >= maxSimilar {
				break
			}
			fmt.Fprintf(&b, "• *ID %s* (similarity: %.2f) - %s\n", m.ID, m.Similarity, excerpt(m.Summary, maxSummaryExcerpt))
			if m.HasSolution() {
				fmt.Fprintf(&b, "  *Solution:* %s\n", excerpt(m.Solution, maxSolutionExcerpt))
			} else {
				b.WriteString("  *No solution available*\n")
			}
		}
		blocks = append(blocks, section(b.String()))
	}

	blocks = append(blocks, map[string]any{
		"type": "actions",
		"elements": []map[string]any{
			button("Acknowledge", "ack", id),
			button("Request More Info", "info", id),
			button("Mark as Resolved", "resolve", id),
		},
	})
	return blocks
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func button(label, actionID, value string) map[string]any {
	return map[string]any{
		"type":      "button",
		"text":      map[string]any{"type": "plain_text", "text": label},
		"action_id": actionID,
		"value":     value,
	}
}

func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
