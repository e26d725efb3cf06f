// Package httpx provides the pooled HTTP client construction shared by the
// transcription, classification, TTS, and webhook clients.
package httpx

import (
	"net/http"
	"time"
)

// NewPooledClient builds an http.Client tuned for repeated calls to one
// upstream host: a bounded idle-connection pool and HTTP/2 where available.
func NewPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
