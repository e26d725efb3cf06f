// Package transcribe submits recorded speech segments to an external
// speech-to-text endpoint and degrades to an empty transcript on any error,
// since a failed transcription must never fail the call.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/audio"
	"github.com/leadbridge/callbridge/internal/httpx"
	"github.com/leadbridge/callbridge/internal/metrics"
)

// Client submits WAV payloads to an external STT endpoint.
type Client struct {
	url    string
	model  string
	client *http.Client
	log    *slog.Logger
}

// New creates a client pointing at the configured transcription endpoint.
func New(url, model string, poolSize int, log *slog.Logger) *Client {
	return &Client{
		url:    url,
		model:  model,
		client: httpx.NewPooledClient(poolSize, 30*time.Second),
		log:    log,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// TranscribePCM encodes pcm as a mono WAV and submits it for transcription.
// Returns an empty string on any error; errors are logged, not propagated.
func (c *Client) TranscribePCM(ctx context.Context, pcm []int16, rate int) string {
	wavData, err := audio.MonoWAV(pcm, rate)
	if err != nil {
		c.log.Error("transcribe: encode wav failed", "error", err)
		metrics.Errors.WithLabelValues("transcribe", "encode").Inc()
		return ""
	}
	return c.Transcribe(ctx, wavData)
}

// Transcribe submits a WAV byte payload as multipart form-data with fields
// {model, language="pt", file}. Returns empty text on any error.
func (c *Client) Transcribe(ctx context.Context, wavData []byte) string {
	start := time.Now()

	body, contentType, err := buildMultipartWAV(c.model, wavData)
	if err != nil {
		c.log.Error("transcribe: build request failed", "error", err)
		metrics.Errors.WithLabelValues("transcribe", "build").Inc()
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		c.log.Error("transcribe: create request failed", "error", err)
		metrics.Errors.WithLabelValues("transcribe", "build").Inc()
		return ""
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error("transcribe: request failed", "error", err)
		metrics.Errors.WithLabelValues("transcribe", "http").Inc()
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.log.Error("transcribe: non-200 status", "status", resp.StatusCode, "body", string(respBody))
		metrics.Errors.WithLabelValues("transcribe", "status").Inc()
		return ""
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.log.Error("transcribe: decode response failed", "error", err)
		metrics.Errors.WithLabelValues("transcribe", "decode").Inc()
		return ""
	}

	metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	return parsed.Text
}

func buildMultipartWAV(model string, wavData []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("language", "pt"); err != nil {
		return nil, "", fmt.Errorf("write language field: %w", err)
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
