// Package actions applies operator responses to incidents: acknowledge,
// request more information, resolve, and record a solution. Every applied
// action leaves an audit trail entry.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// Action identifiers as they arrive from Slack button values and the API.
const (
	ActionAcknowledge = "ack"
	ActionRequestInfo = "info"
	ActionResolve     = "resolve"
	ActionAddSolution = "add_solution"
)

// ErrUnknownAction is returned for action identifiers the service does
// not recognize. No state is mutated in that case.
type ErrUnknownAction struct {
	Action string
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// Store is the slice of the incident store the action service needs.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, status incident.Status) error
	AppendAudit(ctx context.Context, entry *incident.AuditEntry) error
	SetSolution(ctx context.Context, id string, solution string) error
}

// Service applies operator actions to incidents.
type Service struct {
	store             Store
	requestInfoStatus incident.Status
	logger            log.Logger
}

// New creates an action service. requestInfoStatus is the status an
// incident moves to when an operator asks for more information.
func New(store Store, requestInfoStatus incident.Status, logger log.Logger) *Service {
	if store == nil {
		panic(xerrors.New("store is required"))
	}
	if requestInfoStatus == "" {
		requestInfoStatus = incident.StatusNeedsInfo
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:             store,
		requestInfoStatus: requestInfoStatus,
		logger:            logger,
	}
}

// Apply dispatches a named action against an incident on behalf of user.
// Unknown actions are rejected with ErrUnknownAction before any store
// call is made.
func (s *Service) Apply(ctx context.Context, action string, incidentID int64, user string) error {
	switch action {
	case ActionAcknowledge:
		return s.transition(ctx, incidentID, user, incident.StatusAcknowledged, "acknowledged")
	case ActionRequestInfo:
		return s.transition(ctx, incidentID, user, s.requestInfoStatus, "requested_info")
	case ActionResolve:
		return s.transition(ctx, incidentID, user, incident.StatusResolved, "resolved")
	default:
		return &ErrUnknownAction{Action: action}
	}
}

// AddSolution records a textual solution against the incident's memory
// item without changing the incident status.
func (s *Service) AddSolution(ctx context.Context, incidentID int64, solution, user string) error {
	if solution == "" {
		return fmt.Errorf("solution text is required")
	}

	memoryID := strconv.FormatInt(incidentID, 10)
	if err := s.store.SetSolution(ctx, memoryID, solution); err != nil {
		return fmt.Errorf("set solution for incident %d: %w", incidentID, err)
	}

	s.audit(ctx, incidentID, user, "added_solution", map[string]any{"solution": solution})
	s.logger.Info(ctx, "solution recorded", "incident_id", incidentID, "user", user)
	return nil
}

func (s *Service) transition(ctx context.Context, incidentID int64, user string, status incident.Status, action string) error {
	if err := s.store.UpdateStatus(ctx, incidentID, status); err != nil {
		return fmt.Errorf("update incident %d to %s: %w", incidentID, status, err)
	}

	s.audit(ctx, incidentID, user, action, nil)
	s.logger.Info(ctx, "incident action applied",
		"incident_id", incidentID,
		"action", action,
		"status", status,
		"user", user,
	)
	return nil
}

// audit appends an audit entry. Audit failures are logged rather than
// surfaced: the status change already took effect.
func (s *Service) audit(ctx context.Context, incidentID int64, user, action string, details map[string]any) {
	var raw json.RawMessage
	if details != nil {
		raw, _ = json.Marshal(details)
	}
	entry := &incident.AuditEntry{
		IncidentID: incidentID,
		Actor:      user,
		Action:     action,
		Details:    raw,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error(ctx, err, "audit append failed", "incident_id", incidentID, "action", action)
	}
}
