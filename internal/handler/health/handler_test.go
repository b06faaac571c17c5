package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func serve(h *Handler, path string) (*httptest.ResponseRecorder, result) {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var res result
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	return rec, res
}

func TestHealthzAlwaysOK(t *testing.T) {
	failing := Checker{Name: "platform", Check: func(context.Context) error { return errors.New("down") }}
	rec, res := serve(New(failing), "/healthz")
	if rec.Code != http.StatusOK || res.Status != "ok" {
		t.Fatalf("expected ok, got %d %+v", rec.Code, res)
	}
}

func TestReadyzReportsFailures(t *testing.T) {
	ok := Checker{Name: "room", Check: func(context.Context) error { return nil }}
	failing := Checker{Name: "platform", Check: func(context.Context) error { return errors.New("credentials missing") }}

	rec, res := serve(New(ok, failing), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if res.Status != "fail" || res.Checks["room"] != "ok" || res.Checks["platform"] != "fail: credentials missing" {
		t.Fatalf("unexpected result %+v", res)
	}

	rec, res = serve(New(ok), "/readyz")
	if rec.Code != http.StatusOK || res.Status != "ok" {
		t.Fatalf("expected ready, got %d %+v", rec.Code, res)
	}
}
