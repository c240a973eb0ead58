package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  pgconn.CommandTag
		sql  string
		want string
	}{
		{"from tag", pgconn.NewCommandTag("SELECT 3"), "select id from incidents", "SELECT"},
		{"from sql when tag empty", pgconn.CommandTag{}, "insert into audit_log values (1)", "INSERT"},
		{"lowercase sql", pgconn.CommandTag{}, "update incidents set status = $1", "UPDATE"},
		{"leading whitespace", pgconn.CommandTag{}, "  DELETE FROM x", "DELETE"},
		{"empty everything", pgconn.CommandTag{}, "", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := operationName(tt.tag, tt.sql)
			if got != tt.want {
				t.Errorf("operationName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetQueryObserver(t *testing.T) {
	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestLoggingTracer_ObserverSeesOutcome(t *testing.T) {
	defer SetQueryObserver(nil)

	type observed struct {
		operation string
		outcome   string
		dur       time.Duration
	}
	var got []observed
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, operation, outcome string, dur time.Duration) {
		got = append(got, observed{operation, outcome, dur})
	}))

	tr := wrapQueryTracer(nil)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL: "select id from incidents where id = $1",
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
	})

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL: "update incidents set status = $1",
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		Err: context.DeadlineExceeded,
	})

	if len(got) != 2 {
		t.Fatalf("observed %d queries, want 2", len(got))
	}
	if got[0].operation != "SELECT" || got[0].outcome != "ok" {
		t.Errorf("first query = %+v, want SELECT/ok", got[0])
	}
	if got[1].operation != "UPDATE" || got[1].outcome != "error" {
		t.Errorf("second query = %+v, want UPDATE/error", got[1])
	}
	if got[0].dur <= 0 {
		t.Error("expected positive duration for observed query")
	}
}

func TestLoggingTracer_NoStartContext(t *testing.T) {
	t.Parallel()

	tr := wrapQueryTracer(nil)

	// TraceQueryEnd on a context that never saw TraceQueryStart must not
	// panic and must not invoke the observer (duration unknown).
	tr.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
	})
}
