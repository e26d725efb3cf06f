package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/model"
)

func testDispatcher(defaultURL, sentinelURL string) *Dispatcher {
	cfg := &config.Config{
		HTTPPoolSize:       5,
		N8NWebhookURL:      defaultURL,
		FallbackWebhookURL: sentinelURL,
	}
	return New(cfg, slog.Default())
}

func TestResolveEndpoint_Sentinel(t *testing.T) {
	d := testDispatcher("https://default.example/hook", "https://fallback.example/hook")
	got := d.ResolveEndpoint(config.SentinelToken, "https://percall.example/hook")
	if got != "https://fallback.example/hook" {
		t.Errorf("sentinel token should route to the fallback URL, got %q", got)
	}
}

func TestResolveEndpoint_PerCall(t *testing.T) {
	d := testDispatcher("https://default.example/hook", "https://fallback.example/hook")
	got := d.ResolveEndpoint("normal-token", "https://percall.example/hook")
	if got != "https://percall.example/hook" {
		t.Errorf("expected per-call endpoint, got %q", got)
	}
}

func TestResolveEndpoint_EmptyFallsBackToDefault(t *testing.T) {
	d := testDispatcher("https://default.example/hook", "https://fallback.example/hook")
	got := d.ResolveEndpoint("normal-token", "")
	if got != "https://default.example/hook" {
		t.Errorf("expected process default for empty per-call URL, got %q", got)
	}
}

func TestResolveEndpoint_TooShortFallsBackToDefault(t *testing.T) {
	d := testDispatcher("https://default.example/hook", "https://fallback.example/hook")
	got := d.ResolveEndpoint("normal-token", "x")
	if got != "https://default.example/hook" {
		t.Errorf("expected process default for implausibly short per-call URL, got %q", got)
	}
}

func TestDispatchCompletion_PostsJSON(t *testing.T) {
	received := make(chan model.CompletionEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev model.CompletionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher(srv.URL, "https://fallback.example/hook")
	event := model.CompletionEvent{CallID: "call-1", Status: "success", Mode: model.ModeBridge}
	d.DispatchCompletion(context.Background(), event, "")

	select {
	case got := <-received:
		if got.CallID != "call-1" {
			t.Errorf("CallID = %q, want call-1", got.CallID)
		}
	default:
		t.Fatalf("expected the dispatcher to have posted to the test server")
	}
}

func TestDispatchFallback_PostsJSON(t *testing.T) {
	received := make(chan model.FallbackEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev model.FallbackEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher(srv.URL, "https://fallback.example/hook")
	event := model.FallbackEvent{CallID: "call-2", Status: "failed", ErrorReason: "missing_credentials", Source: model.FallbackSource}
	d.DispatchFallback(context.Background(), event, "normal-token", "")

	select {
	case got := <-received:
		if got.ErrorReason != "missing_credentials" {
			t.Errorf("ErrorReason = %q, want missing_credentials", got.ErrorReason)
		}
	default:
		t.Fatalf("expected the dispatcher to have posted to the test server")
	}
}

func TestDispatch_NonePanicsOnUnreachableEndpoint(t *testing.T) {
	d := testDispatcher("http://127.0.0.1:0/unreachable", "https://fallback.example/hook")
	// Must not panic and must not retry/block beyond the HTTP client's own
	// handling of a connection error.
	d.DispatchCompletion(context.Background(), model.CompletionEvent{CallID: "x"}, "")
}
