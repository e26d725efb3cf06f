// Command bridge is the speed-to-lead call bridge process entrypoint: it
// resolves configuration, constructs the shared backend clients, registers
// every HTTP/WS endpoint, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadbridge/callbridge/internal/callflow"
	"github.com/leadbridge/callbridge/internal/classify"
	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/detection"
	"github.com/leadbridge/callbridge/internal/llmchat"
	"github.com/leadbridge/callbridge/internal/objectstore"
	"github.com/leadbridge/callbridge/internal/session"
	"github.com/leadbridge/callbridge/internal/transcribe"
	"github.com/leadbridge/callbridge/internal/ttsstream"
	"github.com/leadbridge/callbridge/internal/webhook"
)

const (
	llmChatMaxTokens = 512
	sweepInterval    = time.Minute
	shutdownDeadline = 30 * time.Second
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using process environment")
	}

	cfg := config.Load()
	log := slog.Default()

	detectionCache := detection.New()
	stop := make(chan struct{})
	detectionCache.RunSweeper(sweepInterval, stop)

	defaultLLM := llmchat.New("https://api.openai.com/v1/", cfg.OpenAIAPIKey, "gpt-4o-mini", llmChatMaxTokens)
	newLLMClient := func(apiKey string) *llmchat.Client {
		return llmchat.New("https://api.openai.com/v1/", apiKey, "gpt-4o-mini", llmChatMaxTokens)
	}
	classifier := classify.New(defaultLLM, newLLMClient, log)

	transcriber := transcribe.New(cfg.TranscriptionURL, cfg.TranscriptionModel, cfg.HTTPPoolSize, log)
	tts := ttsstream.New(cfg.TTSBaseURL, cfg.HTTPPoolSize, log)
	uploader := objectstore.New(cfg.ObjectStoreUploadURL, cfg.ObjectStoreServiceKey, cfg.HTTPPoolSize, log)
	dispatcher := webhook.New(&cfg, log)

	sessionDeps := session.Deps{
		Config:            &cfg,
		DetectionCache:    detectionCache,
		Transcriber:       transcriber,
		Classifier:        classifier,
		TTS:               tts,
		Uploader:          uploader,
		WebhookDispatcher: dispatcher,
		Log:               log,
	}

	deps := callflow.Deps{
		Config:            &cfg,
		DetectionCache:    detectionCache,
		Classifier:        classifier,
		WebhookDispatcher: dispatcher,
		SessionDeps:       sessionDeps,
		Log:               log,
	}

	mux := http.NewServeMux()
	callflow.RegisterRoutes(mux, deps)
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	shutdownDone := make(chan struct{})
	go func() {
		awaitShutdown(srv, stop)
		close(shutdownDone)
	}()

	log.Info("bridge starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	log.Info("bridge stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// awaitShutdown blocks until SIGINT/SIGTERM, then stops the detection-cache
// sweeper and shuts the HTTP server down, waiting up to shutdownDeadline for
// in-flight HTTP requests. Media-stream WebSocket connections are hijacked
// from the server, so Shutdown does not wait for their sessions to finish
// finalizing.
func awaitShutdown(srv *http.Server, stop chan<- struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
}
