package events

import (
	"context"
	"errors"
	"testing"
)

// fakeSource delivers a fixed list of payloads then returns.
type fakeSource struct {
	payloads [][]byte
}

func (f *fakeSource) Run(ctx context.Context, deliver func(ctx context.Context, payload []byte)) error {
	for _, p := range f.payloads {
		deliver(ctx, p)
	}
	return nil
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		payload    string
		wantID     int64
		wantReason string
	}{
		{"valid", `{"incident_id": 42}`, 42, ""},
		{"valid with extras", `{"incident_id": 7, "source": "detector"}`, 7, ""},
		{"large id", `{"incident_id": 9223372036854775807}`, 9223372036854775807, ""},
		{"not json", `not json at all`, 0, "not_object"},
		{"empty", ``, 0, "not_object"},
		{"json array", `[1,2,3]`, 0, "not_object"},
		{"bare number", `42`, 0, "not_object"},
		{"missing id", `{"other": 1}`, 0, "missing_id"},
		{"string id", `{"incident_id": "42"}`, 0, "not_integer"},
		{"float id", `{"incident_id": 4.2}`, 0, "not_integer"},
		{"null id", `{"incident_id": null}`, 0, "not_integer"},
		{"zero id", `{"incident_id": 0}`, 0, "not_positive"},
		{"negative id", `{"incident_id": -3}`, 0, "not_positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := ParseEvent([]byte(tt.payload))
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("ParseEvent: %v", err)
				}
				if id != tt.wantID {
					t.Errorf("id = %d, want %d", id, tt.wantID)
				}
				return
			}

			if err == nil {
				t.Fatal("expected error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T, want *ValidationError", err)
			}
			if verr.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", verr.Reason, tt.wantReason)
			}
		})
	}
}

func TestConsumer_MalformedNeverReachesHandler(t *testing.T) {
	t.Parallel()

	src := &fakeSource{payloads: [][]byte{
		[]byte(`garbage`),
		[]byte(`{"incident_id": "7"}`),
		[]byte(`{"incident_id": -1}`),
		[]byte(`{}`),
	}}

	var handled []int64
	var invalid []string
	c := NewConsumer(src, func(_ context.Context, id int64) error {
		handled = append(handled, id)
		return nil
	}, nil, Hooks{OnInvalid: func(reason string) { invalid = append(invalid, reason) }})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(handled) != 0 {
		t.Errorf("handler invoked for malformed events: %v", handled)
	}
	want := []string{"not_object", "not_integer", "not_positive", "missing_id"}
	if len(invalid) != len(want) {
		t.Fatalf("invalid reasons = %v, want %v", invalid, want)
	}
	for i := range want {
		if invalid[i] != want[i] {
			t.Errorf("reason[%d] = %q, want %q", i, invalid[i], want[i])
		}
	}
}

func TestConsumer_HandlerFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	src := &fakeSource{payloads: [][]byte{
		[]byte(`{"incident_id": 1}`),
		[]byte(`{"incident_id": 2}`),
		[]byte(`{"incident_id": 3}`),
	}}

	boom := errors.New("boom")
	var handled []int64
	var outcomes []error
	c := NewConsumer(src, func(_ context.Context, id int64) error {
		handled = append(handled, id)
		if id == 2 {
			return boom
		}
		return nil
	}, nil, Hooks{OnHandled: func(err error) { outcomes = append(outcomes, err) }})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(handled) != 3 {
		t.Fatalf("handled = %v, want all three ids", handled)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[0] != nil || !errors.Is(outcomes[1], boom) || outcomes[2] != nil {
		t.Errorf("outcomes = %v, want [nil boom nil]", outcomes)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	if got := excerpt([]byte("short"), 10); got != "short" {
		t.Errorf("excerpt = %q", got)
	}
	if got := excerpt([]byte("0123456789abcdef"), 10); got != "0123456789..." {
		t.Errorf("excerpt = %q", got)
	}
}
