// Package webhook builds and dispatches the completion and fallback events
// to the external automation endpoint. Delivery is at-most-once from here:
// the at-least-once guarantee comes from the call flow controller always
// firing a fallback event on every failure branch, not from retrying here.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/httpx"
	"github.com/leadbridge/callbridge/internal/metrics"
	"github.com/leadbridge/callbridge/internal/model"
)

// Dispatcher POSTs completion and fallback events.
type Dispatcher struct {
	client      *http.Client
	defaultURL  string
	sentinelURL string
	log         *slog.Logger
}

// New builds a dispatcher using the process-wide default endpoint as the
// fallback when a call's own endpoint is empty or implausibly short, and
// the process-wide fallback URL as the sentinel-token destination.
func New(cfg *config.Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:      httpx.NewPooledClient(cfg.HTTPPoolSize, 15*time.Second),
		defaultURL:  cfg.N8NWebhookURL,
		sentinelURL: cfg.FallbackWebhookURL,
		log:         log,
	}
}

// ResolveEndpoint implements the endpoint selection rule: the sentinel
// token always reroutes to sentinelURL; otherwise the call's own endpoint
// is used, falling back to the process default when empty or too short to
// be a real URL.
func (d *Dispatcher) ResolveEndpoint(token, perCallURL string) string {
	if token == config.SentinelToken {
		return d.sentinelURL
	}
	if len(perCallURL) >= len("http://x") {
		return perCallURL
	}
	return d.defaultURL
}

// DispatchCompletion sends the completion event for a successfully
// finalized session. perCallURL is the call's own automation endpoint, from
// its recognized options.
func (d *Dispatcher) DispatchCompletion(ctx context.Context, event model.CompletionEvent, perCallURL string) {
	endpoint := d.ResolveEndpoint(event.Token, perCallURL)
	d.post(ctx, endpoint, event, "completion")
}

// DispatchFallback builds and sends the fallback event for a failed
// call-attempt.
func (d *Dispatcher) DispatchFallback(ctx context.Context, event model.FallbackEvent, token, perCallURL string) {
	endpoint := d.ResolveEndpoint(token, perCallURL)
	d.post(ctx, endpoint, event, "fallback")
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, payload any, kind string) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("webhook: marshal payload failed", "kind", kind, "error", err)
		metrics.Errors.WithLabelValues("webhook", "marshal").Inc()
		metrics.WebhookDispatched.WithLabelValues(kind, "marshal_error").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		d.log.Error("webhook: create request failed", "kind", kind, "error", err)
		metrics.WebhookDispatched.WithLabelValues(kind, "build_error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Error("webhook: request failed", "kind", kind, "endpoint", endpoint, "error", err)
		metrics.WebhookDispatched.WithLabelValues(kind, "transport_error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.log.Error("webhook: non-2xx response", "kind", kind, "endpoint", endpoint, "status", resp.StatusCode)
		metrics.WebhookDispatched.WithLabelValues(kind, fmt.Sprintf("status_%d", resp.StatusCode)).Inc()
		return
	}

	d.log.Info("webhook: dispatched", "kind", kind, "endpoint", endpoint)
	metrics.WebhookDispatched.WithLabelValues(kind, "ok").Inc()
}
