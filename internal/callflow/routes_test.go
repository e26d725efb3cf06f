package callflow

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterRoutes_CORSHeaders(t *testing.T) {
	deps, _ := testDeps(t)
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	req := httptest.NewRequest(http.MethodPost, "/incoming", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRegisterRoutes_Preflight(t *testing.T) {
	deps, _ := testDeps(t)
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	req := httptest.NewRequest(http.MethodOptions, "/trigger-call", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}
