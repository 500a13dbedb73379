package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/query-preprocess/backend/internal/middleware"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/audit"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/generation"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
	sessionservice "github.com/zhouzirui/query-preprocess/backend/internal/service/session"
)

type scriptedBackend struct {
	reply string
	err   error
	calls int
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Generate(context.Context, string, generation.Params) (string, error) {
	b.calls++
	return b.reply, b.err
}

func (b *scriptedBackend) Close() error { return nil }

func setupRouter() (*chi.Mux, *scriptedBackend, string) {
	backend := &scriptedBackend{reply: "capital France"}
	gen := generation.NewService(map[query.Mode]generation.Backend{
		query.ModeKeywords:   backend,
		query.ModeSubqueries: backend,
	}, generation.Options{})
	svc := rewrite.NewService(gen, sessionservice.NewService(time.Hour), audit.New(nil), nil, nil)
	userID := svc.Ensure(context.Background(), "").UserID

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), userID)))
		})
	})
	New(svc).RegisterRoutes(r)
	return r, backend, userID
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestQueryReturnsResult(t *testing.T) {
	r, _, userID := setupRouter()

	resp := post(r, "/query", map[string]string{"query": "What is the capital of France?", "mode": "keywords"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out rewrite.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result != "capital France" || out.UserID != userID || !out.ShowFeedback {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestQueryEmptyInput(t *testing.T) {
	r, backend, _ := setupRouter()

	resp := post(r, "/query", map[string]string{"query": "  ", "mode": "keywords"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "Please enter a query to send." {
		t.Fatalf("unexpected error body %v", body)
	}
	if backend.calls != 0 {
		t.Fatal("generation must not run for blank input")
	}
}

func TestQueryInvalidMode(t *testing.T) {
	r, _, _ := setupRouter()

	resp := post(r, "/query", map[string]string{"query": "q", "mode": "poetry"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestQueryInvalidBody(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestQueryGenerationErrorIsInBand(t *testing.T) {
	r, backend, _ := setupRouter()
	backend.err = errors.New("device unavailable")

	resp := post(r, "/query", map[string]string{"query": "q", "mode": "subqueries"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var out rewrite.Outcome
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if !out.Failed || out.Result != "Error: device unavailable" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestFeedbackFlow(t *testing.T) {
	r, _, _ := setupRouter()

	if resp := post(r, "/feedback", map[string]string{"verdict": "satisfied"}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 before any result, got %d", resp.Code)
	}

	post(r, "/query", map[string]string{"query": "q", "mode": "keywords"})

	resp := post(r, "/feedback", map[string]string{"verdict": "satisfied"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out rewrite.Outcome
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if !out.ThankYou || out.Result != "capital France" || out.ShowFeedback {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if resp := post(r, "/feedback", map[string]string{"verdict": "unsatisfied"}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for repeated feedback, got %d", resp.Code)
	}

	if resp := post(r, "/feedback", map[string]string{"verdict": "meh"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown verdict, got %d", resp.Code)
	}
}

func TestGetSession(t *testing.T) {
	r, _, userID := setupRouter()
	post(r, "/query", map[string]string{"query": "q", "mode": "keywords"})

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view rewrite.View
	_ = json.NewDecoder(resp.Body).Decode(&view)
	if view.UserID != userID || view.LastResult != "capital France" || !view.ShowFeedback {
		t.Fatalf("unexpected view %+v", view)
	}
}
