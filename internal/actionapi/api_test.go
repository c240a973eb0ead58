package actionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/actions"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/incident/memstore"
	"github.com/linnemanlabs/beacon/internal/retrieval"
)

type fakeSearcher struct {
	result       retrieval.Result
	gotQuery     retrieval.Query
	gotTopK      int
	gotThreshold float64
}

func (f *fakeSearcher) SearchWithThreshold(_ context.Context, q retrieval.Query, topK int, threshold float64) retrieval.Result {
	f.gotQuery = q
	f.gotTopK = topK
	f.gotThreshold = threshold
	return f.result
}

func testServer(t *testing.T, store *memstore.Store, searcher Searcher) *httptest.Server {
	t.Helper()
	svc := actions.New(store, "", nil)
	api := New(nil, svc, searcher, store)
	r := chi.NewRouter()
	api.RegisterRoutes(r, nil)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

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
		Service: "checkout",
		Labels:  []string{"sql"},
	}); err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return store
}

func slackPayload(actionID, value, username string) string {
	payload := map[string]any{
		"type": "block_actions",
		"user": map[string]any{"id": "U123", "username": username},
		"actions": []map[string]any{
			{"action_id": actionID, "value": value},
		},
	}
	b, _ := json.Marshal(payload)
	form := url.Values{}
	form.Set("payload", string(b))
	return form.Encode()
}

// slackSolutionPayload builds an add_solution interaction where the
// solution text travels in the action's selected menu option.
func slackSolutionPayload(value, solution, username string) string {
	payload := map[string]any{
		"type": "block_actions",
		"user": map[string]any{"id": "U123", "username": username},
		"actions": []map[string]any{
			{
				"action_id": "add_solution",
				"value":     value,
				"selected_option": map[string]any{
					"text": map[string]any{"type": "plain_text", "text": solution},
				},
			},
		},
	}
	b, _ := json.Marshal(payload)
	form := url.Values{}
	form.Set("payload", string(b))
	return form.Encode()
}

func postForm(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/x-www-form-urlencoded", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSlackAction_Acknowledge(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp := postForm(t, srv, "/api/v1/slack/actions", slackPayload("ack", "42", "alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	out := decode(t, resp)
	if text, _ := out["text"].(string); !strings.Contains(text, "@alice") {
		t.Errorf("response text = %q, want to mention the user", text)
	}

	in, _, _ := store.GetIncident(context.Background(), 42)
	if in.Status != incident.StatusAcknowledged {
		t.Errorf("status = %v, want acknowledged", in.Status)
	}
	audits := store.Audits(42)
	if len(audits) != 1 || audits[0].Action != "acknowledged" || audits[0].Actor != "alice" {
		t.Errorf("audits = %+v", audits)
	}
}

func TestSlackAction_UnknownAction(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp := postForm(t, srv, "/api/v1/slack/actions", slackPayload("escalate", "42", "alice"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	in, _, _ := store.GetIncident(context.Background(), 42)
	if in.Status != incident.StatusNotified {
		t.Errorf("status = %v, want unchanged", in.Status)
	}
}

func TestSlackAction_BadPayloads(t *testing.T) {
	t.Parallel()

	srv := testServer(t, seed(t), &fakeSearcher{})

	tests := []struct {
		name string
		body string
	}{
		{"no payload field", "other=1"},
		{"payload not json", "payload=notjson"},
		{"no actions", `payload=` + url.QueryEscape(`{"type":"block_actions","actions":[]}`)},
		{"bad incident id", slackPayload("ack", "abc", "alice")},
		{"negative incident id", slackPayload("ack", "-1", "alice")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := postForm(t, srv, "/api/v1/slack/actions", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSlackAction_MissingIncident(t *testing.T) {
	t.Parallel()

	srv := testServer(t, memstore.New(), &fakeSearcher{})

	resp := postForm(t, srv, "/api/v1/slack/actions", slackPayload("resolve", "99", "alice"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSlackAction_AddSolution(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp := postForm(t, srv, "/api/v1/slack/actions",
		slackSolutionPayload("42", "rotated credentials", "carol"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode(t, resp)
	if !strings.Contains(out["text"].(string), "@carol") {
		t.Errorf("text = %v", out["text"])
	}

	mem, ok := store.GetMemory("42")
	if !ok || mem.Solution != "rotated credentials" {
		t.Errorf("solution = %q", mem.Solution)
	}

	in, _, _ := store.GetIncident(context.Background(), 42)
	if in.Status != incident.StatusNotified {
		t.Errorf("status = %s, add_solution changes no status", in.Status)
	}

	audits := store.Audits(42)
	if len(audits) != 1 || audits[0].Action != "added_solution" {
		t.Fatalf("audits = %v", audits)
	}
}

func TestSlackAction_AddSolutionWithoutText(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp := postForm(t, srv, "/api/v1/slack/actions",
		slackSolutionPayload("42", "  ", "carol"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if mem, _ := store.GetMemory("42"); mem != nil && mem.Solution != "" {
		t.Errorf("solution = %q, want untouched", mem.Solution)
	}
}

func TestAddSolution(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp := postJSON(t, srv, "/api/v1/incidents/42/solution", map[string]any{
		"solution": "rotated credentials",
		"user":     "bob",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode(t, resp)
	if out["success"] != true {
		t.Errorf("response = %v", out)
	}

	mem, _ := store.GetMemory("42")
	if mem.Solution != "rotated credentials" {
		t.Errorf("solution = %q", mem.Solution)
	}
}

func TestAddSolution_Validation(t *testing.T) {
	t.Parallel()

	srv := testServer(t, seed(t), &fakeSearcher{})

	resp := postJSON(t, srv, "/api/v1/incidents/42/solution", map[string]any{"solution": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank solution: status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv, "/api/v1/incidents/notanumber/solution", map[string]any{"solution": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv, "/api/v1/incidents/999/solution", map[string]any{"solution": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing incident: status = %d, want 404", resp.StatusCode)
	}
}

func TestSimilar(t *testing.T) {
	t.Parallel()

	store := seed(t)
	srv := testServer(t, store, &fakeSearcher{})

	resp, err := http.Get(srv.URL + "/api/v1/incidents/similar?service=checkout&limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	out := decode(t, resp)
	if out["total_found"] != float64(1) {
		t.Fatalf("total_found = %v, want 1", out["total_found"])
	}
	items := out["incidents"].([]any)
	first := items[0].(map[string]any)
	if first["incident_id"] != "42" || first["has_solution"] != false {
		t.Errorf("item = %v", first)
	}
	if _, ok := first["id"]; ok {
		t.Error("item carries an id key, items are keyed by incident_id")
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{result: retrieval.Result{Items: []incident.Match{
		{ID: "42", Summary: "SQL injection attempt", Similarity: 0.88, Solution: "patched"},
	}}}
	srv := testServer(t, seed(t), searcher)

	resp := postJSON(t, srv, "/api/v1/search", map[string]any{
		"query":                "injection on checkout",
		"limit":                7,
		"similarity_threshold": 0.8,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if searcher.gotQuery.Text != "injection on checkout" {
		t.Errorf("query = %q", searcher.gotQuery.Text)
	}
	if searcher.gotTopK != 7 || searcher.gotThreshold != 0.8 {
		t.Errorf("topK = %d threshold = %g", searcher.gotTopK, searcher.gotThreshold)
	}

	out := decode(t, resp)
	if out["total_found"] != float64(1) {
		t.Fatalf("total_found = %v", out["total_found"])
	}
	first := out["incidents"].([]any)[0].(map[string]any)
	if first["similarity"] != 0.88 || first["has_solution"] != true {
		t.Errorf("item = %v", first)
	}
	if first["incident_id"] != "42" {
		t.Errorf("incident_id = %v, want 42", first["incident_id"])
	}
	if _, ok := first["id"]; ok {
		t.Error("item carries an id key, items are keyed by incident_id")
	}
}

func TestSearch_Validation(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	srv := testServer(t, seed(t), searcher)

	resp := postJSON(t, srv, "/api/v1/search", map[string]any{"query": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", resp.StatusCode)
	}

	// Limits are defaulted and capped rather than rejected.
	resp = postJSON(t, srv, "/api/v1/search", map[string]any{"query": "x", "limit": 10000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if searcher.gotTopK != maxLimit {
		t.Errorf("topK = %d, want capped at %d", searcher.gotTopK, maxLimit)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := testServer(t, seed(t), &fakeSearcher{})

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	out := decode(t, resp)
	if out["status"] != "healthy" || out["database"] != "connected" {
		t.Errorf("health = %v", out)
	}
}
