package actions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/incident/memstore"
)

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	store.PutIncident(&incident.Incident{
		ID:          42,
		SummaryText: "SQL injection attempt",
		Status:      incident.StatusNotified,
	})
	if err := store.UpsertMemory(context.Background(), &incident.MemoryItem{
		ID:      "42",
		Summary: "SQL injection attempt",
	}); err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return store
}

func TestApply_AckThenResolve(t *testing.T) {
	t.Parallel()

	store := seed(t)
	svc := New(store, "", nil)
	ctx := context.Background()

	if err := svc.Apply(ctx, ActionAcknowledge, 42, "alice"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	in, _, _ := store.GetIncident(ctx, 42)
	if in.Status != incident.StatusAcknowledged {
		t.Errorf("status = %v, want acknowledged", in.Status)
	}

	if err := svc.Apply(ctx, ActionResolve, 42, "bob"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	in, _, _ = store.GetIncident(ctx, 42)
	if in.Status != incident.StatusResolved {
		t.Errorf("status = %v, want resolved", in.Status)
	}

	audits := store.Audits(42)
	if len(audits) != 2 {
		t.Fatalf("audits = %d, want 2", len(audits))
	}
	if audits[0].Action != "acknowledged" || audits[0].Actor != "alice" {
		t.Errorf("first audit = %+v", audits[0])
	}
	if audits[1].Action != "resolved" || audits[1].Actor != "bob" {
		t.Errorf("second audit = %+v", audits[1])
	}
}

func TestApply_RequestInfoUsesConfiguredStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured incident.Status
		want       incident.Status
	}{
		{"default", "", incident.StatusNeedsInfo},
		{"needs_info", incident.StatusNeedsInfo, incident.StatusNeedsInfo},
		{"open", incident.StatusOpen, incident.StatusOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := seed(t)
			svc := New(store, tt.configured, nil)

			if err := svc.Apply(context.Background(), ActionRequestInfo, 42, "carol"); err != nil {
				t.Fatalf("info: %v", err)
			}
			in, _, _ := store.GetIncident(context.Background(), 42)
			if in.Status != tt.want {
				t.Errorf("status = %v, want %v", in.Status, tt.want)
			}

			audits := store.Audits(42)
			if len(audits) != 1 || audits[0].Action != "requested_info" {
				t.Errorf("audits = %+v, want one requested_info", audits)
			}
		})
	}
}

func TestApply_UnknownActionMutatesNothing(t *testing.T) {
	t.Parallel()

	store := seed(t)
	svc := New(store, "", nil)

	err := svc.Apply(context.Background(), "escalate", 42, "mallory")
	var unknown *ErrUnknownAction
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want ErrUnknownAction", err)
	}
	if unknown.Action != "escalate" {
		t.Errorf("Action = %q", unknown.Action)
	}

	in, _, _ := store.GetIncident(context.Background(), 42)
	if in.Status != incident.StatusNotified {
		t.Errorf("status = %v, want unchanged", in.Status)
	}
	if len(store.Audits(42)) != 0 {
		t.Error("unknown action must not leave audit entries")
	}
}

func TestApply_MissingIncident(t *testing.T) {
	t.Parallel()

	svc := New(memstore.New(), "", nil)
	err := svc.Apply(context.Background(), ActionAcknowledge, 99, "alice")
	if !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAddSolution(t *testing.T) {
	t.Parallel()

	store := seed(t)
	svc := New(store, "", nil)

	if err := svc.AddSolution(context.Background(), 42, "blocked the source IP", "dave"); err != nil {
		t.Fatalf("AddSolution: %v", err)
	}

	mem, ok := store.GetMemory("42")
	if !ok || mem.Solution != "blocked the source IP" {
		t.Errorf("memory = %+v", mem)
	}

	// Status is untouched by solution capture.
	in, _, _ := store.GetIncident(context.Background(), 42)
	if in.Status != incident.StatusNotified {
		t.Errorf("status = %v, want unchanged", in.Status)
	}

	audits := store.Audits(42)
	if len(audits) != 1 || audits[0].Action != "added_solution" {
		t.Fatalf("audits = %+v, want one added_solution", audits)
	}
	var details map[string]any
	if err := json.Unmarshal(audits[0].Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["solution"] != "blocked the source IP" {
		t.Errorf("details = %v", details)
	}
}

func TestAddSolution_EmptyRejected(t *testing.T) {
	t.Parallel()

	store := seed(t)
	svc := New(store, "", nil)

	if err := svc.AddSolution(context.Background(), 42, "", "dave"); err == nil {
		t.Fatal("expected error for empty solution")
	}
	if len(store.Audits(42)) != 0 {
		t.Error("rejected solution must not leave audit entries")
	}
}

func TestAddSolution_MissingMemory(t *testing.T) {
	t.Parallel()

	svc := New(memstore.New(), "", nil)
	err := svc.AddSolution(context.Background(), 7, "fix", "dave")
	if !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
