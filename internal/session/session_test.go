package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadbridge/callbridge/internal/classify"
	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/detection"
	"github.com/leadbridge/callbridge/internal/model"
	"github.com/leadbridge/callbridge/internal/objectstore"
	"github.com/leadbridge/callbridge/internal/transcribe"
	"github.com/leadbridge/callbridge/internal/ttsstream"
	"github.com/leadbridge/callbridge/internal/webhook"
)

func TestParseRecognizedOptions_DefaultsVoiceProviderToOpenAI(t *testing.T) {
	opts := parseRecognizedOptions(map[string]string{"lead_id": "lead-1"})
	if opts.VoiceProvider != model.VoiceProviderOpenAI {
		t.Errorf("VoiceProvider = %q, want default openai", opts.VoiceProvider)
	}
	if opts.LeadID != "lead-1" {
		t.Errorf("LeadID = %q, want lead-1", opts.LeadID)
	}
}

func TestParseRecognizedOptions_HonorsExplicitProvider(t *testing.T) {
	opts := parseRecognizedOptions(map[string]string{"voice_provider": "elevenlabs", "voice_id": "v1"})
	if opts.VoiceProvider != model.VoiceProviderElevenLabs {
		t.Errorf("VoiceProvider = %q, want elevenlabs", opts.VoiceProvider)
	}
	if opts.VoiceID != "v1" {
		t.Errorf("VoiceID = %q, want v1", opts.VoiceID)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q, want b", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty = %q, want empty", got)
	}
}

func TestSliceSamples(t *testing.T) {
	pcm := make([]int16, 16000) // 2s at 8kHz
	for i := range pcm {
		pcm[i] = int16(i)
	}
	slice := sliceSamples(pcm, 0.5, 1.0, 8000)
	if len(slice) != 4000 {
		t.Fatalf("len(slice) = %d, want 4000", len(slice))
	}
	if slice[0] != pcm[4000] {
		t.Errorf("slice[0] = %d, want %d", slice[0], pcm[4000])
	}
}

func TestSliceSamples_ClampsOutOfRange(t *testing.T) {
	pcm := make([]int16, 100)
	if got := sliceSamples(pcm, -1, 0.2, 8000); len(got) == 0 {
		t.Errorf("expected a clamped non-empty slice for a negative start")
	}
	if got := sliceSamples(pcm, 5, 6, 8000); got != nil {
		t.Errorf("expected nil slice when start is past the end of pcm, got %v", got)
	}
}

func TestToAudioChunks(t *testing.T) {
	chunks := []model.AudioChunk{{TimestampMs: 10, Payload: []byte{1, 2}}, {TimestampMs: 20, Payload: []byte{3}}}
	out := toAudioChunks(chunks)
	if len(out) != 2 || out[0].TimestampMs != 10 || out[1].TimestampMs != 20 {
		t.Errorf("toAudioChunks mismatched: %+v", out)
	}
}

func TestCombinedAgentTranscript(t *testing.T) {
	s := &Session{}
	s.call.Transcripts = []model.TranscriptEntry{
		{Role: model.RoleUser, Text: "oi"},
		{Role: model.RoleAssistant, Text: "ola"},
	}
	got := s.combinedAgentTranscript()
	want := "[user]: oi\n[assistant]: ola"
	if got != want {
		t.Errorf("combinedAgentTranscript = %q, want %q", got, want)
	}
}

func TestRealtimeMessages(t *testing.T) {
	s := &Session{}
	now := time.Now()
	s.call.Transcripts = []model.TranscriptEntry{{Role: model.RoleUser, Text: "oi", Timestamp: now}}
	msgs := s.realtimeMessages()
	if len(msgs) != 1 || msgs[0].Message != "oi" || msgs[0].Role != model.RoleUser {
		t.Errorf("realtimeMessages mismatched: %+v", msgs)
	}
}

func TestVadConfig_AppliesDepsOverrides(t *testing.T) {
	s := &Session{deps: Deps{Config: &config.Config{
		VADWindowMs:             250,
		VADEnergyFloor:          99,
		VADDominanceRatio:       3,
		VADWeakerDominanceRatio: 1.5,
		AnnouncementWindowSec:   12,
	}}}
	cfg := s.vadConfig()
	if cfg.SampleRate != sampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, sampleRate)
	}
	if cfg.WindowMs != 250 || cfg.EnergyFloor != 99 || cfg.DominanceRatio != 3 {
		t.Errorf("vadConfig did not apply overrides: %+v", cfg)
	}
}

func TestWireFrame_DecodesStartFrame(t *testing.T) {
	raw := `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"mode":"bridge","call_id":"c-1"}}}`
	var frame wireFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != "start" || frame.Start == nil {
		t.Fatalf("expected a decoded start payload, got %+v", frame)
	}
	if frame.Start.StreamSID != "MZ1" || frame.Start.CallSID != "CA1" {
		t.Errorf("start payload mismatched: %+v", frame.Start)
	}
	if frame.Start.CustomParameters["mode"] != "bridge" {
		t.Errorf("customParameters[mode] = %q, want bridge", frame.Start.CustomParameters["mode"])
	}
}

func TestWireFrame_DecodesMediaFrame(t *testing.T) {
	raw := `{"event":"media","media":{"track":"inbound","timestamp":"1500","payload":"AAA="}}`
	var frame wireFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Media == nil || frame.Media.Track != "inbound" || frame.Media.Timestamp != "1500" {
		t.Errorf("media payload mismatched: %+v", frame.Media)
	}
}

func TestOutboundMediaFrame_Marshals(t *testing.T) {
	frame := outboundMediaFrame{Event: "media", StreamSID: "MZ1", Media: outboundMedia{Payload: "AAA="}}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"streamSid":"MZ1"`) {
		t.Errorf("marshaled frame missing streamSid: %s", data)
	}
}

// wsServerConn upgrades one inbound connection and hands it to onConn,
// mirroring callflow.HandleMediaStream's wiring.
func wsServerConn(t *testing.T, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		onConn(conn)
	}))
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func testDeps(t *testing.T, webhookSrv *httptest.Server) Deps {
	t.Helper()
	cfg := &config.Config{
		N8NWebhookURL:      webhookSrv.URL,
		FallbackWebhookURL: webhookSrv.URL,
		HTTPPoolSize:       2,
	}
	return Deps{
		Config:            cfg,
		DetectionCache:    detection.New(),
		Transcriber:       transcribe.New("", "whisper-1", 2, slog.Default()),
		Classifier:        classify.New(nil, nil, slog.Default()),
		TTS:               ttsstream.New("", 2, slog.Default()),
		Uploader:          objectstore.New("", "", 2, slog.Default()),
		WebhookDispatcher: webhook.New(cfg, slog.Default()),
		Log:               slog.Default(),
	}
}

// TestSession_AgentCallFinalizesOnStop drives a full Session through
// stream-start, one non-audio round trip, and stream-stop, and asserts
// exactly one completion webhook is dispatched.
func TestSession_AgentCallFinalizesOnStop(t *testing.T) {
	var received model.CompletionEvent
	done := make(chan struct{}, 1)
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer webhookSrv.Close()

	deps := testDeps(t, webhookSrv)

	sessionDone := make(chan struct{})
	mediaSrv := wsServerConn(t, func(conn *websocket.Conn) {
		sess := New(conn, deps, "agent", "test-source")
		sess.Run(t.Context())
		close(sessionDone)
	})
	defer mediaSrv.Close()

	client := dialWS(t, mediaSrv)
	defer client.Close()

	start := map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": map[string]string{"call_id": "call-xyz"},
		},
	}
	if err := client.WriteJSON(start); err != nil {
		t.Fatalf("write start frame: %v", err)
	}

	stop := map[string]any{"event": "stop"}
	if err := client.WriteJSON(stop); err != nil {
		t.Fatalf("write stop frame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion webhook")
	}

	select {
	case <-sessionDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to reach DONE")
	}

	if received.Mode != model.ModeAgent {
		t.Errorf("Mode = %q, want agent", received.Mode)
	}
	if received.Status != "success" {
		t.Errorf("Status = %q, want success", received.Status)
	}
	if received.CallID != "" {
		t.Errorf("CallID = %q, want empty: call_id is a bridge-only field", received.CallID)
	}
}

func TestSession_TelephonyClosedBeforeStopFinalizesOnce(t *testing.T) {
	var calls int
	done := make(chan struct{}, 1)
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer webhookSrv.Close()

	deps := testDeps(t, webhookSrv)

	sessionDone := make(chan struct{})
	mediaSrv := wsServerConn(t, func(conn *websocket.Conn) {
		sess := New(conn, deps, "agent", "test-source")
		sess.Run(t.Context())
		close(sessionDone)
	})
	defer mediaSrv.Close()

	client := dialWS(t, mediaSrv)

	start := map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ1", "callSid": "CA1"},
	}
	if err := client.WriteJSON(start); err != nil {
		t.Fatalf("write start frame: %v", err)
	}

	// Give the session a moment to process the start frame before the
	// client disconnects without ever sending a stop frame.
	time.Sleep(100 * time.Millisecond)
	client.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion webhook after abrupt disconnect")
	}

	select {
	case <-sessionDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to reach DONE")
	}

	if calls != 1 {
		t.Errorf("expected exactly one webhook dispatch, got %d", calls)
	}
}

func TestSession_ClosedBeforeStartDispatchesNoWebhook(t *testing.T) {
	var calls int
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	deps := testDeps(t, webhookSrv)

	sessionDone := make(chan struct{})
	mediaSrv := wsServerConn(t, func(conn *websocket.Conn) {
		sess := New(conn, deps, "agent", "test-source")
		sess.Run(t.Context())
		close(sessionDone)
	})
	defer mediaSrv.Close()

	client := dialWS(t, mediaSrv)
	client.Close()

	select {
	case <-sessionDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to reach DONE")
	}

	if calls != 0 {
		t.Errorf("expected no webhook dispatch for a connection closed before stream-start, got %d", calls)
	}
}
