package session

import (
	"context"
	"fmt"
	"time"

	"github.com/leadbridge/callbridge/internal/audio"
	"github.com/leadbridge/callbridge/internal/metrics"
	"github.com/leadbridge/callbridge/internal/model"
)

// assistantName is the fixed label carried on every dispatched event; it is
// also the pre-recorded announcement's voice persona (§4.2).
const assistantName = "BIANCA"

// finalize runs the FINALIZING step of the session state machine: it
// encodes and uploads the recording, runs VAD/transcription/classification
// over it, and dispatches exactly one completion event. It never returns an
// error — every failure degrades to a safe default per §4.10, since a
// finalize pass must always end in a dispatched webhook.
func (s *Session) finalize(ctx context.Context) {
	switch s.call.Mode {
	case model.ModeBridge:
		s.finalizeBridge(ctx)
	default:
		s.finalizeAgent(ctx)
	}
}

func (s *Session) finalizeBridge(ctx context.Context) {
	inbound := toAudioChunks(s.call.InboundChunks)
	outbound := toAudioChunks(s.call.OutboundChunks)

	var recordingURL, sdrTranscript, leadTranscript, combinedTranscript string

	if len(inbound) > 0 || len(outbound) > 0 {
		leadPCM, sdrPCM := audio.SynchronizeTracks(inbound, outbound, sampleRate)

		if wav, err := audio.StereoWAV(leadPCM, sdrPCM, sampleRate); err != nil {
			s.deps.Log.Error("session: stereo wav encode failed", "call_id", s.call.CallID, "error", err)
			metrics.Errors.WithLabelValues("session", "stereo_wav").Inc()
		} else {
			recordingURL = s.deps.Uploader.Upload(ctx, fmt.Sprintf("%s.wav", s.call.CallID), wav)
		}

		segments := audio.SegmentSpeakers(sdrPCM, leadPCM, s.vadConfig())
		s.transcribeSegments(ctx, segments, sdrPCM, leadPCM)
		segments = audio.CorrectAnnouncementMisattribution(segments)

		for _, seg := range segments {
			metrics.VADSpeechSegments.WithLabelValues(string(seg.Speaker)).Inc()
		}

		sdrTranscript = audio.SpeakerTranscript(segments, audio.SpeakerSDR)
		leadTranscript = audio.SpeakerTranscript(segments, audio.SpeakerLead)
		combinedTranscript = audio.CombinedTranscript(segments)
	}

	if s.call.SDRDetection.Reason == "no_detection_stored" && sdrTranscript != "" {
		result := s.deps.Classifier.ClassifySdrFirstSpeech(ctx, sdrTranscript, s.llmAPIKey())
		s.call.SDRDetection = model.DetectionOutcome{
			Answered:   result.IsHuman,
			Reason:     result.Reason,
			Confidence: result.Confidence,
			FirstWords: sdrTranscript,
		}
	}

	leadResult := s.deps.Classifier.ClassifyLeadSpeech(ctx, leadTranscript, s.llmAPIKey())
	s.call.LeadDetection = model.DetectionOutcome{
		Answered:   leadResult.IsHuman,
		Reason:     leadResult.Reason,
		Confidence: leadResult.Confidence,
	}

	event := model.CompletionEvent{
		AssistantName:    assistantName,
		Transcript:       combinedTranscript,
		RealtimeMessages: s.realtimeMessages(),
		RecordingURL:     recordingURL,
		Timestamp:        time.Now(),
		Status:           "success",
		Mode:             s.call.Mode,
		Source:           s.call.Source,

		SDRTranscript:           sdrTranscript,
		LeadTranscript:          leadTranscript,
		Token:                   s.call.Options.UserToken,
		LeadID:                  s.call.Options.LeadID,
		CallID:                  s.call.CallID,
		SDRAnswered:             s.call.SDRDetection.Answered,
		SDRDetectionReason:      s.call.SDRDetection.Reason,
		SDRDetectionConfidence:  s.call.SDRDetection.Confidence,
		SDRFirstWords:           s.call.SDRDetection.FirstWords,
		LeadAnswered:            s.call.LeadDetection.Answered,
		LeadDetectionReason:     s.call.LeadDetection.Reason,
		LeadDetectionConfidence: s.call.LeadDetection.Confidence,
	}

	s.deps.WebhookDispatcher.DispatchCompletion(ctx, event, s.call.Options.AutomationEndpoint)
}

func (s *Session) finalizeAgent(ctx context.Context) {
	var recordingURL string

	if len(s.call.AgentChunks) > 0 {
		raw := make([]byte, 0)
		for _, c := range s.call.AgentChunks {
			raw = append(raw, c.Payload...)
		}
		pcm := audio.MuLawToPCM16(raw)
		if wav, err := audio.MonoWAV(pcm, sampleRate); err != nil {
			s.deps.Log.Error("session: mono wav encode failed", "call_id", s.call.CallID, "error", err)
			metrics.Errors.WithLabelValues("session", "mono_wav").Inc()
		} else {
			recordingURL = s.deps.Uploader.Upload(ctx, fmt.Sprintf("%s.wav", s.call.CallID), wav)
		}
	}

	event := model.CompletionEvent{
		AssistantName:    assistantName,
		Transcript:       s.combinedAgentTranscript(),
		RealtimeMessages: s.realtimeMessages(),
		RecordingURL:     recordingURL,
		Timestamp:        time.Now(),
		Status:           "success",
		Mode:             s.call.Mode,
		Source:           s.call.Source,
	}

	s.deps.WebhookDispatcher.DispatchCompletion(ctx, event, s.call.Options.AutomationEndpoint)
}

// transcribeSegments fills each segment's Text in chronological order using
// the appropriate channel's samples — SDR from sdrPCM, LEAD/BIANCA from
// leadPCM.
func (s *Session) transcribeSegments(ctx context.Context, segments []audio.Segment, sdrPCM, leadPCM []int16) {
	for i := range segments {
		seg := &segments[i]
		var pcm []int16
		if seg.Speaker == audio.SpeakerSDR {
			pcm = sdrPCM
		} else {
			pcm = leadPCM
		}
		slice := sliceSamples(pcm, seg.StartSec, seg.EndSec, sampleRate)
		seg.Text = s.deps.Transcriber.TranscribePCM(ctx, slice, sampleRate)
	}
}

func sliceSamples(pcm []int16, startSec, endSec float64, rate int) []int16 {
	start := int(startSec * float64(rate))
	end := int(endSec * float64(rate))
	if start < 0 {
		start = 0
	}
	if end > len(pcm) {
		end = len(pcm)
	}
	if start >= end {
		return nil
	}
	return pcm[start:end]
}

func (s *Session) vadConfig() audio.SegmenterConfig {
	cfg := audio.DefaultSegmenterConfig()
	cfg.SampleRate = sampleRate
	if s.deps.Config != nil {
		cfg.WindowMs = s.deps.Config.VADWindowMs
		cfg.EnergyFloor = s.deps.Config.VADEnergyFloor
		cfg.DominanceRatio = s.deps.Config.VADDominanceRatio
		cfg.WeakerDominanceRatio = s.deps.Config.VADWeakerDominanceRatio
		cfg.AnnouncementWindowSec = s.deps.Config.AnnouncementWindowSec
	}
	return cfg
}

func (s *Session) realtimeMessages() []model.RealtimeMessage {
	messages := make([]model.RealtimeMessage, 0, len(s.call.Transcripts))
	for _, t := range s.call.Transcripts {
		messages = append(messages, model.RealtimeMessage{Role: t.Role, Message: t.Text, Timestamp: t.Timestamp})
	}
	return messages
}

func (s *Session) combinedAgentTranscript() string {
	var out string
	for i, t := range s.call.Transcripts {
		if i > 0 {
			out += "\n"
		}
		out += "[" + string(t.Role) + "]: " + t.Text
	}
	return out
}

func toAudioChunks(chunks []model.AudioChunk) []audio.Chunk {
	out := make([]audio.Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, audio.Chunk{TimestampMs: c.TimestampMs, Payload: c.Payload})
	}
	return out
}
