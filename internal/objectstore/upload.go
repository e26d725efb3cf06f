// Package objectstore is a thin client for the external blob-storage
// sink's upload URL contract: POST bytes, get back a public URL. The store
// itself is out of scope for this system; this package only speaks its
// upload contract.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/httpx"
	"github.com/leadbridge/callbridge/internal/metrics"
)

// Client uploads recording bytes and returns a public URL.
type Client struct {
	uploadURL  string
	serviceKey string
	client     *http.Client
	log        *slog.Logger
}

// New builds a client pointed at the configured upload endpoint.
func New(uploadURL, serviceKey string, poolSize int, log *slog.Logger) *Client {
	return &Client{
		uploadURL:  uploadURL,
		serviceKey: serviceKey,
		client:     httpx.NewPooledClient(poolSize, 30*time.Second),
		log:        log,
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload POSTs data as a multipart file and returns the public URL, or an
// empty string on any failure — an upload error must never fail the call.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) string {
	if c.uploadURL == "" {
		return ""
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		c.log.Error("objectstore: create form file failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "build").Inc()
		return ""
	}
	if _, err := part.Write(data); err != nil {
		c.log.Error("objectstore: write payload failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "build").Inc()
		return ""
	}
	if err := writer.Close(); err != nil {
		c.log.Error("objectstore: close writer failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "build").Inc()
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		c.log.Error("objectstore: create request failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "build").Inc()
		return ""
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error("objectstore: request failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "http").Inc()
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("objectstore: non-200 status", "status", resp.StatusCode)
		metrics.Errors.WithLabelValues("upload", "status").Inc()
		return ""
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.log.Error("objectstore: decode response failed", "error", err)
		metrics.Errors.WithLabelValues("upload", "decode").Inc()
		return ""
	}

	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	return parsed.URL
}
