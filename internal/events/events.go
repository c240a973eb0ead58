// Package events receives "incident ready" events from a transport and
// dispatches them to the pipeline, one at a time. A malformed message or
// a failed handler never stops the loop.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Handler processes one validated incident id.
type Handler func(ctx context.Context, incidentID int64) error

// Source is the event-transport capability. Implementations deliver raw
// payloads until the context is done; the pipeline never branches on the
// concrete transport.
type Source interface {
	Run(ctx context.Context, deliver func(ctx context.Context, payload []byte)) error
}

// ValidationError describes a malformed event payload.
type ValidationError struct {
	Reason string // not_object, missing_id, not_integer, not_positive
	Detail string
}

func (e *ValidationError) Error() string { return "invalid event: " + e.Detail }

// Hooks are optional observation callbacks for the consumer loop.
type Hooks struct {
	OnInvalid func(reason string)
	OnHandled func(err error)
}

// Consumer validates and dispatches events from a Source.
type Consumer struct {
	source  Source
	handler Handler
	logger  log.Logger
	hooks   Hooks
}

// NewConsumer creates a consumer. The handler must be safe to run more
// than once for the same id: redelivery is possible under polling.
func NewConsumer(source Source, handler Handler, logger log.Logger, hooks Hooks) *Consumer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		source:  source,
		handler: handler,
		logger:  logger,
		hooks:   hooks,
	}
}

// Run consumes events until the context is done. Per-event failures are
// logged at this boundary and never propagate.
func (c *Consumer) Run(ctx context.Context) error {
	return c.source.Run(ctx, c.dispatch)
}

func (c *Consumer) dispatch(ctx context.Context, payload []byte) {
	runID := ulid.Make().String()
	L := c.logger.With("run_id", runID)
	ctx = log.WithContext(ctx, L)

	id, err := ParseEvent(payload)
	if err != nil {
		reason := "invalid"
		var verr *ValidationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		L.Warn(ctx, "dropping invalid event", "reason", reason, "error", err, "payload", excerpt(payload, 256))
		if c.hooks.OnInvalid != nil {
			c.hooks.OnInvalid(reason)
		}
		return
	}

	L.Info(ctx, "received incident event", "incident_id", id)
	herr := c.handler(ctx, id)
	if herr != nil {
		L.Error(ctx, herr, "incident processing failed", "incident_id", id)
	}
	if c.hooks.OnHandled != nil {
		c.hooks.OnHandled(herr)
	}
}

// ParseEvent validates the event payload shape: a JSON object with a
// positive integer incident_id. Anything else is a ValidationError.
func ParseEvent(payload []byte) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return 0, &ValidationError{Reason: "not_object", Detail: "payload is not a JSON object"}
	}

	raw, ok := obj["incident_id"]
	if !ok {
		return 0, &ValidationError{Reason: "missing_id", Detail: "missing incident_id"}
	}

	num, ok := raw.(json.Number)
	if !ok {
		return 0, &ValidationError{Reason: "not_integer", Detail: "incident_id is not a number"}
	}
	id, err := num.Int64()
	if err != nil {
		return 0, &ValidationError{Reason: "not_integer", Detail: "incident_id is not an integer: " + num.String()}
	}
	if id <= 0 {
		return 0, &ValidationError{Reason: "not_positive", Detail: "incident_id must be positive: " + num.String()}
	}
	return id, nil
}

func excerpt(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
