// Package session implements the per-call media-stream actor: the state
// machine that owns a call's telephony WebSocket and LLM realtime
// WebSocket, its audio buffers and transcripts, and drives it from
// stream-start through finalize and webhook dispatch.
//
// All CallSession state is owned exclusively by the session's own goroutine.
// The telephony socket and the LLM socket are each read by their own
// goroutine; both feed a single mailbox channel that the session's main
// loop drains serially, so state mutations never race.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadbridge/callbridge/internal/classify"
	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/detection"
	"github.com/leadbridge/callbridge/internal/llmrealtime"
	"github.com/leadbridge/callbridge/internal/metrics"
	"github.com/leadbridge/callbridge/internal/model"
	"github.com/leadbridge/callbridge/internal/objectstore"
	"github.com/leadbridge/callbridge/internal/transcribe"
	"github.com/leadbridge/callbridge/internal/ttsstream"
	"github.com/leadbridge/callbridge/internal/webhook"
)

const (
	stateInit       = "INIT"
	stateOpen       = "OPEN"
	stateFinalizing = "FINALIZING"
	stateDone       = "DONE"

	sampleRate = 8000

	scribePrompt      = "You are a silent transcriber. Do not speak. Only listen and let the transcription model do its job."
	agentPromptPrefix = "You are a friendly, concise voice agent for a sales team."
)

// Deps holds the shared backend clients a session needs. One Deps is built
// once at process start and handed to every session.
type Deps struct {
	Config            *config.Config
	DetectionCache    *detection.Cache
	Transcriber       *transcribe.Client
	Classifier        *classify.Classifier
	TTS               *ttsstream.Client
	Uploader          *objectstore.Client
	WebhookDispatcher *webhook.Dispatcher
	Log               *slog.Logger
}

// mailboxEvent is one item in the session's single-consumer event queue.
// llmDialed carries the outcome of the asynchronous LLM socket dial back
// onto the session's own goroutine, so s.llm is only ever written from the
// loop that reads it.
type mailboxEvent struct {
	telephonyFrame *wireFrame
	llmEvent       *llmrealtime.Event
	sourceClosed   string // "telephony" or "llm"
	llmDialed      *llmrealtime.Client
}

// Session is the per-call media-stream actor.
type Session struct {
	deps Deps

	telephonyConn *websocket.Conn
	writeMu       sync.Mutex

	llm *llmrealtime.Client

	call  model.CallSession
	state string

	llmReady     bool
	pendingAudio []string

	defaultMode string
	source      string

	mailbox chan mailboxEvent
}

// New constructs a session bound to an already-upgraded telephony
// WebSocket. defaultMode applies when the start frame's custom parameters
// carry no "mode"; /connect-lead-originated streams set "mode" to "bridge"
// there.
func New(conn *websocket.Conn, deps Deps, defaultMode, source string) *Session {
	return &Session{
		deps:          deps,
		telephonyConn: conn,
		state:         stateInit,
		defaultMode:   defaultMode,
		source:        source,
	}
}

// Run drives the session to completion: it blocks until the telephony
// socket closes or the session reaches DONE after finalize.
func (s *Session) Run(ctx context.Context) {
	defer s.telephonyConn.Close()

	s.mailbox = make(chan mailboxEvent, 128)
	go s.readTelephony(s.mailbox)

	for ev := range s.mailbox {
		if s.handle(ctx, ev) {
			break
		}
	}

	metrics.CallsActive.Dec()
}

// readTelephony feeds the mailbox until the telephony socket closes. It
// never closes the mailbox itself: the LLM reader goroutine may still be
// writing to it, and Run stops draining once handle reports DONE.
func (s *Session) readTelephony(mailbox chan<- mailboxEvent) {
	for {
		_, data, err := s.telephonyConn.ReadMessage()
		if err != nil {
			mailbox <- mailboxEvent{sourceClosed: "telephony"}
			return
		}
		var frame wireFrame
		if jsonErr := json.Unmarshal(data, &frame); jsonErr != nil {
			s.deps.Log.Error("session: decode telephony frame failed", "error", jsonErr)
			continue
		}
		mailbox <- mailboxEvent{telephonyFrame: &frame}
	}
}

func (s *Session) readLLM(mailbox chan<- mailboxEvent) {
	err := s.llm.ReadLoop(func(ev llmrealtime.Event) bool {
		mailbox <- mailboxEvent{llmEvent: &ev}
		return true
	})
	if err != nil {
		s.deps.Log.Info("session: llm socket closed", "call_id", s.call.CallID, "error", err)
	}
	mailbox <- mailboxEvent{sourceClosed: "llm"}
}

// handle processes one mailbox event. Returns true when the session has
// reached DONE and the run loop should stop.
func (s *Session) handle(ctx context.Context, ev mailboxEvent) bool {
	switch {
	case ev.telephonyFrame != nil:
		return s.handleTelephonyFrame(ctx, ev.telephonyFrame)
	case ev.llmEvent != nil:
		s.handleLLMEvent(ctx, *ev.llmEvent)
		return false
	case ev.llmDialed != nil:
		s.onLLMDialed(ev.llmDialed)
		return false
	case ev.sourceClosed == "telephony":
		return s.handleTelephonyClosed(ctx)
	case ev.sourceClosed == "llm":
		s.deps.Log.Info("session: llm reader exited", "call_id", s.call.CallID)
		return false
	}
	return false
}

// onLLMDialed runs on the session's own goroutine: it adopts the freshly
// dialed client, sends the initial session-update, and starts the reader
// goroutine that will feed LLM events back through the mailbox.
func (s *Session) onLLMDialed(client *llmrealtime.Client) {
	s.llm = client
	go s.readLLM(s.mailbox)

	instructions := s.resolveInstructions()
	if err := s.llm.SendSessionUpdate(llmrealtime.SessionUpdateOptions{
		Instructions:       instructions,
		TranscriptionModel: s.deps.Config.TranscriptionModel,
	}); err != nil {
		s.deps.Log.Error("session: session.update failed", "call_id", s.call.CallID, "error", err)
	}
}

func (s *Session) handleTelephonyFrame(ctx context.Context, frame *wireFrame) bool {
	switch frame.Event {
	case "start":
		s.onStart(ctx, frame.Start)
	case "media":
		s.onMedia(ctx, frame.Media)
	case "stop":
		s.onStop(ctx)
		return true
	}
	return false
}

// handleTelephonyClosed handles the telephony socket dropping without a
// stream-stop frame. Per §7 kind 7: if the call never reached stream-start
// (still INIT), no webhook is owed — the HTTP layer never heard from this
// stream either. If it reached OPEN, finalize still runs once with whatever
// audio/transcripts were captured, so the at-least-once completion/fallback
// invariant holds even on an abrupt disconnect.
func (s *Session) handleTelephonyClosed(ctx context.Context) bool {
	if s.llm != nil {
		s.llm.Close()
	}
	if s.state == stateOpen {
		s.deps.Log.Info("session: telephony closed before stream-stop, finalizing with captured data", "call_id", s.call.CallID)
		s.state = stateFinalizing
		s.finalize(ctx)
	}
	s.state = stateDone
	return true
}

func (s *Session) onStart(ctx context.Context, start *startPayload) {
	if start == nil {
		return
	}
	s.call.StreamSID = start.StreamSID
	s.call.CallSID = start.CallSID
	s.call.CreatedAt = time.Now()
	s.call.Source = s.source

	s.call.Options = parseRecognizedOptions(start.CustomParameters)
	s.call.CallID = firstNonEmpty(start.CustomParameters["call_id"], s.call.CallID)
	s.call.Mode = model.Mode(firstNonEmpty(start.CustomParameters["mode"], s.defaultMode))

	metrics.CallsActive.Inc()
	metrics.CallsTotal.WithLabelValues(string(s.call.Mode)).Inc()

	if s.call.Mode == model.ModeBridge {
		s.loadDetectionRecord()
	}

	if s.call.Mode == model.ModeAgent && s.call.Options.VoiceProvider == model.VoiceProviderElevenLabs && s.call.Options.FirstMessage != "" {
		go s.deps.TTS.StreamTo(ctx, s.call.Options.FirstMessage, s.call.Options.VoiceID, s.apiKeyForTTS(), s, s.call.StreamSID)
	}

	go s.openLLMSocket(s.llmAPIKey(), s.deps.Config.LLMRealtimeURL)

	s.state = stateOpen
}

func (s *Session) loadDetectionRecord() {
	rec, ok := s.deps.DetectionCache.Take(s.call.CallSID)
	if !ok {
		s.call.SDRDetection = model.DetectionOutcome{Answered: false, Reason: "no_detection_stored"}
		return
	}
	s.call.SDRDetection = model.DetectionOutcome{
		Answered:   rec.Answered,
		Reason:     rec.Reason,
		Confidence: rec.Confidence,
		FirstWords: rec.FirstWords,
	}
}

func (s *Session) apiKeyForTTS() string {
	if s.call.Options.AlternateTTSAPIKey != "" {
		return s.call.Options.AlternateTTSAPIKey
	}
	return s.deps.Config.ElevenLabsAPIKey
}

// openLLMSocket dials the LLM realtime WebSocket off the session's own
// goroutine (dialing can take hundreds of milliseconds) and hands the
// result back through the mailbox so it is only ever touched by Run's loop.
func (s *Session) openLLMSocket(apiKey, url string) {
	client, err := llmrealtime.Dial(url, apiKey, s.deps.Log)
	if err != nil {
		s.deps.Log.Error("session: llm dial failed", "call_id", s.call.CallID, "error", err)
		metrics.Errors.WithLabelValues("session", "llm_dial").Inc()
		return
	}
	s.mailbox <- mailboxEvent{llmDialed: client}
}

func (s *Session) llmAPIKey() string {
	if s.call.Options.CustomLLMKey != "" {
		return s.call.Options.CustomLLMKey
	}
	return s.deps.Config.OpenAIAPIKey
}

func (s *Session) resolveInstructions() string {
	if s.call.Mode == model.ModeBridge {
		return scribePrompt
	}
	if s.call.Options.CustomSystemPrompt != "" {
		return agentPromptPrefix + "\n" + s.call.Options.CustomSystemPrompt
	}
	return agentPromptPrefix
}

func (s *Session) onMedia(ctx context.Context, media *mediaPayload) {
	if media == nil {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		s.deps.Log.Error("session: decode media payload failed", "error", err)
		return
	}
	ts, _ := strconv.ParseInt(media.Timestamp, 10, 64)
	chunk := model.AudioChunk{TimestampMs: ts, Payload: payload}

	switch {
	case s.call.Mode == model.ModeBridge && media.Track == "inbound":
		s.call.InboundChunks = append(s.call.InboundChunks, chunk)
	case s.call.Mode == model.ModeBridge:
		s.call.OutboundChunks = append(s.call.OutboundChunks, chunk)
	default:
		s.call.AgentChunks = append(s.call.AgentChunks, chunk)
	}

	if s.llm == nil || !s.llmReady {
		s.pendingAudio = append(s.pendingAudio, media.Payload)
		return
	}
	if err := s.llm.SendAudioAppend(media.Payload); err != nil {
		s.deps.Log.Error("session: forward audio to llm failed", "call_id", s.call.CallID, "error", err)
	}
}

func (s *Session) flushPendingAudio() {
	pending := s.pendingAudio
	s.pendingAudio = nil
	for _, payload := range pending {
		if err := s.llm.SendAudioAppend(payload); err != nil {
			s.deps.Log.Error("session: flush pending audio failed", "call_id", s.call.CallID, "error", err)
			return
		}
	}
}

func (s *Session) handleLLMEvent(ctx context.Context, ev llmrealtime.Event) {
	switch ev.Type {
	case llmrealtime.EventSessionUpdated:
		s.llmReady = true
		s.flushPendingAudio()
		if s.call.Mode == model.ModeAgent && s.call.Options.VoiceProvider == model.VoiceProviderOpenAI && s.call.Options.FirstMessage != "" {
			instr := fmt.Sprintf("Say '%s'", s.call.Options.FirstMessage)
			if err := s.llm.SendResponseCreate(instr); err != nil {
				s.deps.Log.Error("session: response.create failed", "error", err)
			}
		}
	case llmrealtime.EventAudioDelta:
		if s.call.Mode == model.ModeAgent && s.call.Options.VoiceProvider == model.VoiceProviderOpenAI {
			if err := s.SendMedia(s.call.StreamSID, ev.AudioDelta); err != nil {
				s.deps.Log.Error("session: forward audio delta failed", "error", err)
			}
		}
	case llmrealtime.EventSpeechStarted:
		if s.call.Mode == model.ModeAgent {
			s.sendClear()
			if err := s.llm.SendResponseCancel(); err != nil {
				s.deps.Log.Error("session: response.cancel failed", "error", err)
			}
		}
	case llmrealtime.EventInputTranscriptionCompleted:
		s.appendTranscript(model.RoleUser, ev.Transcript)
	case llmrealtime.EventAudioTranscriptDone:
		s.appendTranscript(model.RoleAssistant, ev.Transcript)
		if s.call.Mode == model.ModeAgent && s.call.Options.VoiceProvider == model.VoiceProviderElevenLabs {
			go s.deps.TTS.StreamTo(ctx, ev.Transcript, s.call.Options.VoiceID, s.apiKeyForTTS(), s, s.call.StreamSID)
		}
	}
}

func (s *Session) appendTranscript(role model.Role, text string) {
	if text == "" {
		return
	}
	s.call.Transcripts = append(s.call.Transcripts, model.TranscriptEntry{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (s *Session) onStop(ctx context.Context) {
	s.state = stateFinalizing
	if s.llm != nil {
		s.llm.Close()
	}
	s.finalize(ctx)
	s.state = stateDone
}

// SendMedia implements ttsstream.MediaSender and is also used to forward
// native LLM audio deltas: it writes one outbound media frame to the
// telephony socket.
func (s *Session) SendMedia(streamSID string, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame := outboundMediaFrame{
		Event:     "media",
		StreamSID: streamSID,
		Media:     outboundMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	}
	return s.telephonyConn.WriteJSON(frame)
}

func (s *Session) sendClear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame := clearFrame{Event: "clear", StreamSID: s.call.StreamSID}
	if err := s.telephonyConn.WriteJSON(frame); err != nil {
		s.deps.Log.Error("session: send clear failed", "error", err)
	}
}

func parseRecognizedOptions(params map[string]string) model.RecognizedOptions {
	return model.RecognizedOptions{
		VoiceID:            params["voice_id"],
		VoiceProvider:      model.VoiceProvider(firstNonEmpty(params["voice_provider"], string(model.VoiceProviderOpenAI))),
		AlternateTTSAPIKey: params["alternate_tts_api_key"],
		CustomLLMKey:       params["custom_llm_key"],
		CustomSystemPrompt: params["custom_system_prompt"],
		FirstMessage:       params["first_message"],
		AutomationEndpoint: params["automation_endpoint"],
		UserToken:          params["user_token"],
		LeadID:             params["lead_id"],
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
