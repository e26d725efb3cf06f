// Package ttsstream streams synthesized speech from an external TTS vendor
// straight through to the telephony media socket, chunk by chunk, so
// playback can start before the whole utterance has been synthesized.
package ttsstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/httpx"
	"github.com/leadbridge/callbridge/internal/metrics"
)

// MediaSender is the subset of the telephony socket the TTS client needs:
// forwarding one outbound media frame. internal/session implements it.
type MediaSender interface {
	SendMedia(streamSID string, payload []byte) error
}

// Client streams text-to-speech audio from an external vendor's streaming
// endpoint and forwards it to the telephony socket as media frames.
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// New builds a client pointed at the TTS vendor's base URL.
func New(baseURL string, poolSize int, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  httpx.NewPooledClient(poolSize, 60*time.Second),
		log:     log,
	}
}

type synthesizeRequest struct {
	Text            string `json:"text"`
	VoiceID         string `json:"voice_id"`
	OutputFormat    string `json:"output_format"`
	OptimizeLatency int    `json:"optimize_streaming_latency"`
}

// StreamTo posts text to the vendor, streaming the mu-law response body
// straight to sender as they arrive. Errors are logged and swallowed: a TTS
// failure never fails the call.
func (c *Client) StreamTo(ctx context.Context, text, voiceID, apiKey string, sender MediaSender, streamSID string) {
	start := time.Now()

	reqBody, err := json.Marshal(synthesizeRequest{
		Text:            text,
		VoiceID:         voiceID,
		OutputFormat:    "ulaw_8000",
		OptimizeLatency: 4,
	})
	if err != nil {
		c.log.Error("ttsstream: marshal request failed", "error", err)
		metrics.Errors.WithLabelValues("tts", "marshal").Inc()
		return
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		c.log.Error("ttsstream: create request failed", "error", err)
		metrics.Errors.WithLabelValues("tts", "build").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error("ttsstream: request failed", "error", err)
		metrics.Errors.WithLabelValues("tts", "http").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("ttsstream: non-200 status", "status", resp.StatusCode)
		metrics.Errors.WithLabelValues("tts", "status").Inc()
		return
	}

	c.forward(resp.Body, sender, streamSID)
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
}

const chunkSize = 4096

func (c *Client) forward(body io.Reader, sender MediaSender, streamSID string) {
	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if sendErr := sender.SendMedia(streamSID, payload); sendErr != nil {
				c.log.Error("ttsstream: forward to telephony socket failed", "error", sendErr)
				metrics.Errors.WithLabelValues("tts", "forward").Inc()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Error("ttsstream: read response body failed", "error", err)
				metrics.Errors.WithLabelValues("tts", "read").Inc()
			}
			return
		}
	}
}

// EncodeMediaFrame base64-encodes a mu-law payload for embedding in an
// outbound media frame.
func EncodeMediaFrame(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}
