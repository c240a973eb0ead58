// Package analysis asks a generative model for a structured root-cause
// analysis of an incident, degrading gracefully on model or parse failure.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
)

const (
	// ResponseTokens bounds the model output budget.
	ResponseTokens = 400

	// maxRelatedSummary truncates related-incident summaries in the prompt.
	maxRelatedSummary = 200

	// maxRawSummary bounds the raw-text summary used when the model
	// response cannot be parsed as JSON.
	maxRawSummary = 400

	// maxEvidence bounds the evidence excerpt included in the prompt.
	maxEvidence = 800
)

// Provider is the interface for any generation backend. Completions are
// requested with deterministic decoding (temperature 0).
type Provider interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Engine produces root-cause analyses for incidents.
type Engine struct {
	provider Provider
	logger   log.Logger
}

// NewEngine creates an analysis engine with the given provider.
func NewEngine(provider Provider, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{provider: provider, logger: logger}
}

// Analyze returns a structured analysis of the incident. Neither model
// failure nor malformed output escapes this boundary: a transport error
// yields the fixed manual-review result, a parse failure yields the raw
// text with low confidence.
func (e *Engine) Analyze(ctx context.Context, in *incident.Incident, related []incident.Match) *incident.AnalysisResult {
	prompt := buildPrompt(in, related)

	text, err := e.provider.Complete(ctx, prompt, ResponseTokens)
	if err != nil {
		e.logger.Warn(ctx, "model call failed, returning manual-review analysis",
			"incident_id", in.ID, "error", err)
		return manualReviewResult(in)
	}

	result, err := parseResult(text)
	if err != nil {
		e.logger.Warn(ctx, "model output not parseable, degrading to raw summary",
			"incident_id", in.ID, "error", err)
		return &incident.AnalysisResult{
			Summary:    truncate(strings.TrimSpace(text), maxRawSummary),
			RootCauses: []incident.RootCause{},
			Confidence: incident.ConfidenceLow,
		}
	}
	return result
}

// parseResult extracts the substring between the first '{' and the last
// '}' and decodes it as an AnalysisResult.
func parseResult(text string) (*incident.AnalysisResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var result incident.AnalysisResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if result.RootCauses == nil {
		result.RootCauses = []incident.RootCause{}
	}
	if result.Confidence == "" {
		result.Confidence = incident.ConfidenceLow
	}
	return &result, nil
}

// manualReviewResult is the fixed fallback when the model is unreachable.
func manualReviewResult(in *incident.Incident) *incident.AnalysisResult {
	return &incident.AnalysisResult{
		Summary: fmt.Sprintf("Automated analysis failed for incident %d: %s", in.ID, truncate(in.SummaryText, maxRelatedSummary)),
		RootCauses: []incident.RootCause{
			{
				Cause: "Automated analysis unavailable",
				Fixes: []string{
					"Review the incident evidence manually",
					"Check recent deploys and configuration changes for the affected service",
				},
				Rollback: "No automated rollback suggested; investigate before acting",
			},
		},
		Confidence: incident.ConfidenceLow,
	}
}

const promptTemplate = `You are an assistant for SREs and SecOps engineers.
A new incident happened.

Service: %s
Created at: %s
Labels: %s
Summary: %s
Evidence (short): %s

Related past incidents:
%s

Task:
1) Provide a 1-2 line human readable summary.
2) List up to 3 possible root causes (ranked).
3) For each root cause, suggest 1-2 safe, non-destructive fixes and a rollback step.
4) Provide a confidence level: low, medium, or high.

Return valid JSON exactly like:
{"summary":"...","root_causes":[{"cause":"...","fixes":["..."],"rollback":"..."}],"confidence":"..."}`

// buildPrompt renders the bounded analysis prompt.
func buildPrompt(in *incident.Incident, related []incident.Match) string {
	service := in.Service()
	if service == "" {
		service = in.SummaryText
	}

	var createdAt string
	if !in.CreatedAt.IsZero() {
		createdAt = in.CreatedAt.Format(time.RFC3339)
	}

	var evidence string
	if len(in.Evidence) > 0 {
		evidence = truncate(string(in.Evidence), maxEvidence)
	}

	var b strings.Builder
	for _, r := range related {
		solution := r.Solution
		if solution == "" {
			solution = "not yet provided"
		}
		fmt.Fprintf(&b, "- id:%s | service:%s | summary:%s | labels:%s | solution:%s\n",
			r.ID, r.Service, truncate(r.Summary, maxRelatedSummary),
			strings.Join(r.Labels, ","), truncate(solution, maxRelatedSummary))
	}
	relatedList := b.String()
	if relatedList == "" {
		relatedList = "None"
	}

	return fmt.Sprintf(promptTemplate,
		service, createdAt, strings.Join(in.Labels, ","), in.SummaryText, evidence, relatedList)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
