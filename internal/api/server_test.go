package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/store"
	"github.com/elin-hagberg/careform/internal/survey"
)

type memPersister struct {
	fail bool
}

func (m *memPersister) Save(ctx context.Context, answers map[string]store.Record) error {
	if m.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func testStore(t *testing.T, p store.Persister) *store.Store {
	t.Helper()
	s, err := survey.New([]survey.Question{
		{ID: "1", Field: "Housing", Text: "Need apartment support?", Type: survey.TypeSingleChoice, Options: []string{"yes", "no"}},
		{ID: "2", Field: "Wellbeing", Text: "How are you feeling?", Type: survey.TypeText},
	})
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	return store.New(s, p)
}

func testServer(t *testing.T, token string) (*Server, *store.Store) {
	t.Helper()
	st := testStore(t, &memPersister{})
	return NewServer(8640, token, st, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, st := testServer(t, "")

	proposal := []extractor.ProposedAnswer{{
		QuestionID: "2",
		Answer:     extractor.TextValue("fine"),
		Certainty:  extractor.CertaintyLow,
	}}
	if err := st.Merge(context.Background(), proposal, store.ProvenanceOracle); err != nil {
		t.Fatalf("merge: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["service"] != "careform" {
		t.Errorf("expected service careform, got %v", body["service"])
	}
	if body["questions"] != float64(2) || body["answered"] != float64(1) {
		t.Errorf("expected 2 questions and 1 answered, got %v / %v", body["questions"], body["answered"])
	}
}

func TestQuestionsEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/questions", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(body))
	}
	if body[0]["id"] != "1" || body[0]["type"] != "single choice" {
		t.Errorf("unexpected first question: %v", body[0])
	}
}

func TestPutAnswer_HumanEdit(t *testing.T) {
	srv, st := testServer(t, "")

	body := strings.NewReader(`{"answer": ["yes"], "rationale": "confirmed by case worker"}`)
	req := httptest.NewRequest("PUT", "/api/v1/answers/1", body)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	rec, ok := st.Get("1")
	if !ok {
		t.Fatal("answer not stored")
	}
	if rec.Provenance != store.ProvenanceHuman {
		t.Errorf("provenance = %s, want human", rec.Provenance)
	}
	if rec.Certainty != extractor.CertaintyHigh {
		t.Errorf("certainty = %s, human edits are always high", rec.Certainty)
	}
	if !st.Protected()["1"] {
		t.Error("edited question should be protected")
	}
}

func TestPutAnswer_UnknownQuestion(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("PUT", "/api/v1/answers/99", strings.NewReader(`{"answer": "x"}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPutAnswer_InvalidValue(t *testing.T) {
	srv, _ := testServer(t, "")

	// "maybe" is not an option for the single-choice question.
	req := httptest.NewRequest("PUT", "/api/v1/answers/1", strings.NewReader(`{"answer": ["maybe"]}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPutAnswer_PersistenceFailure(t *testing.T) {
	st := testStore(t, &memPersister{fail: true})
	srv := NewServer(8640, "", st, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest("PUT", "/api/v1/answers/2", strings.NewReader(`{"answer": "fine"}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := testServer(t, "secret-token")

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", w.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for health without token, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
