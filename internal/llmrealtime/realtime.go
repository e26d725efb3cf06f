// Package llmrealtime is the client for the LLM realtime WebSocket: the
// voice-conversation leg of a call, separate from the single-turn detector
// calls in internal/llmchat. It owns one outbound WebSocket per call
// session and turns raw frames into typed events.
package llmrealtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadbridge/callbridge/internal/metrics"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EventType enumerates the realtime events this system consumes.
type EventType string

const (
	EventSessionUpdated              EventType = "session.updated"
	EventAudioDelta                  EventType = "response.audio.delta"
	EventSpeechStarted               EventType = "input_audio_buffer.speech_started"
	EventInputTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDone         EventType = "response.audio_transcript.done"
)

// Event is a parsed frame received from the LLM.
type Event struct {
	Type       EventType
	AudioDelta []byte // decoded from base64 for EventAudioDelta
	Transcript string // for EventInputTranscriptionCompleted / EventAudioTranscriptDone
}

// Client wraps one realtime WebSocket connection. Writes are
// mutex-serialized since session-update, audio-append, and response-create
// may be issued from different goroutines (the telephony reader and the LLM
// reader both call into the session, which may dispatch sends from either).
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  *slog.Logger
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

// Dial opens the realtime WebSocket, authenticating with apiKey as a bearer
// token, the way an OpenAI-compatible realtime endpoint expects.
func Dial(url, apiKey string, log *slog.Logger) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("llmrealtime dial: %w", err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// SessionUpdateOptions configures the one session.update frame sent after
// the socket opens.
type SessionUpdateOptions struct {
	Instructions       string
	TranscriptionModel string
}

// SendSessionUpdate configures modalities, audio format, built-in
// transcription, and server-side VAD. Modalities always include both text
// and audio, even when audio output will be suppressed downstream, because
// the LLM's server-side voice-activity detection requires it.
func (c *Client) SendSessionUpdate(opts SessionUpdateOptions) error {
	payload := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"instructions":        opts.Instructions,
			"input_audio_transcription": map[string]any{
				"model": opts.TranscriptionModel,
			},
			"turn_detection": map[string]any{
				"type": "server_vad",
			},
		},
	}
	return c.send(payload)
}

// SendAudioAppend forwards one inbound audio chunk (already base64-encoded
// by the caller, matching the telephony wire format) to the LLM's input
// buffer.
func (c *Client) SendAudioAppend(base64Payload string) error {
	return c.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64Payload,
	})
}

// SendResponseCreate requests a new response. When instructions is
// non-empty it overrides the session's default instructions for this turn
// only, used for "Say '<firstMessage>'" kickoffs.
func (c *Client) SendResponseCreate(instructions string) error {
	frame := map[string]any{"type": "response.create"}
	if instructions != "" {
		frame["response"] = map[string]any{"instructions": instructions}
	}
	return c.send(frame)
}

// SendResponseCancel cancels any in-flight response, used on barge-in.
func (c *Client) SendResponseCancel() error {
	return c.send(map[string]any{"type": "response.cancel"})
}

// ReadLoop blocks reading frames and invoking onEvent for each one this
// system cares about, until the connection closes or onEvent returns false.
// Unrecognized event types are silently ignored.
func (c *Client) ReadLoop(onEvent func(Event) bool) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok := parseEvent(data)
		if !ok {
			continue
		}
		if !onEvent(ev) {
			return nil
		}
	}
}

func parseEvent(data []byte) (Event, bool) {
	var envelope struct {
		Type       string `json:"type"`
		Delta      string `json:"delta"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		metrics.Errors.WithLabelValues("llmrealtime", "decode").Inc()
		return Event{}, false
	}

	switch EventType(envelope.Type) {
	case EventSessionUpdated:
		return Event{Type: EventSessionUpdated}, true
	case EventAudioDelta:
		audio, err := decodeBase64(envelope.Delta)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventAudioDelta, AudioDelta: audio}, true
	case EventSpeechStarted:
		return Event{Type: EventSpeechStarted}, true
	case EventInputTranscriptionCompleted:
		return Event{Type: EventInputTranscriptionCompleted, Transcript: envelope.Transcript}, true
	case EventAudioTranscriptDone:
		return Event{Type: EventAudioTranscriptDone, Transcript: envelope.Transcript}, true
	default:
		return Event{}, false
	}
}
