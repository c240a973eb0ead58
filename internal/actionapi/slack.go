package actionapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/actions"
	"github.com/linnemanlabs/beacon/internal/incident"
)

// interaction is the subset of Slack's block_actions payload we act on.
type interaction struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
		// add_solution carries its text through a select menu option.
		SelectedOption struct {
			Text struct {
				Text string `json:"text"`
			} `json:"text"`
		} `json:"selected_option"`
	} `json:"actions"`
}

// handleSlackAction processes a Slack interactivity callback. Slack posts
// a form body with the JSON payload in the "payload" field and expects a
// prompt 200; the response text is shown to the acting user.
func (a *API) handleSlackAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	var in interaction
	if err := json.Unmarshal([]byte(r.PostFormValue("payload")), &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if len(in.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "no actions in payload")
		return
	}

	act := in.Actions[0]
	incidentID, err := strconv.ParseInt(act.Value, 10, 64)
	if err != nil || incidentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid incident id in action value")
		return
	}

	user := in.User.Username
	if user == "" {
		user = in.User.ID
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int64("beacon.incident.id", incidentID),
		attribute.String("beacon.action", act.ActionID),
	)

	if act.ActionID == actions.ActionAddSolution {
		solution := strings.TrimSpace(act.SelectedOption.Text.Text)
		if solution == "" {
			writeError(w, http.StatusBadRequest, "no solution text provided")
			return
		}
		err = a.actions.AddSolution(r.Context(), incidentID, solution, user)
	} else {
		err = a.actions.Apply(r.Context(), act.ActionID, incidentID, user)
	}
	if err != nil {
		var unknown *actions.ErrUnknownAction
		switch {
		case errors.As(err, &unknown):
			writeError(w, http.StatusBadRequest, unknown.Error())
		case errors.Is(err, incident.ErrNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
		default:
			a.logger.Error(r.Context(), err, "slack action failed",
				"incident_id", incidentID, "action", act.ActionID)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response_type": "ephemeral",
		"text":          fmt.Sprintf("Incident #%d: %s by @%s", incidentID, actionVerb(act.ActionID), user),
	})
}

func actionVerb(action string) string {
	switch action {
	case actions.ActionAcknowledge:
		return "acknowledged"
	case actions.ActionRequestInfo:
		return "more info requested"
	case actions.ActionResolve:
		return "resolved"
	case actions.ActionAddSolution:
		return "solution added"
	default:
		return action
	}
}
