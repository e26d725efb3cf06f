package audio

import "testing"

// tone generates a constant-amplitude "speech-like" PCM16 buffer of n samples.
func tone(n int, amplitude int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestSegmentSpeakers_EmptyInput(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	segments := SegmentSpeakers(nil, nil, cfg)
	if len(segments) != 0 {
		t.Errorf("expected no segments for empty input, got %d", len(segments))
	}
}

func TestSegmentSpeakers_SDRDominant(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	windowSamples := cfg.SampleRate * cfg.WindowMs / 1000

	// 3 windows of loud SDR speech, silent lead channel.
	n := windowSamples * 3
	inbound := tone(n, 1000)
	outbound := make([]int16, n)

	segments := SegmentSpeakers(inbound, outbound, cfg)
	if len(segments) != 1 {
		t.Fatalf("expected 1 merged SDR segment, got %d: %+v", len(segments), segments)
	}
	if segments[0].Speaker != SpeakerSDR {
		t.Errorf("expected SDR speaker, got %s", segments[0].Speaker)
	}
}

func TestSegmentSpeakers_LeadAfterAnnouncementWindow(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	cfg.AnnouncementWindowSec = 1 // shrink for a fast test
	windowSamples := cfg.SampleRate * cfg.WindowMs / 1000

	// Enough windows to cross the 1-second announcement boundary.
	n := windowSamples * 6
	outbound := tone(n, 1000)
	inbound := make([]int16, n)

	segments := SegmentSpeakers(inbound, outbound, cfg)
	if len(segments) == 0 {
		t.Fatalf("expected at least one segment")
	}

	var sawBianca, sawLead bool
	for _, s := range segments {
		if s.Speaker == SpeakerBianca {
			sawBianca = true
		}
		if s.Speaker == SpeakerLead {
			sawLead = true
		}
	}
	if !sawBianca {
		t.Errorf("expected an early BIANCA (announcement) segment")
	}
	if !sawLead {
		t.Errorf("expected a later LEAD segment after the announcement window")
	}
}

func TestSegmentSpeakers_DropsShortSegments(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	cfg.MinSegmentMs = 500
	windowSamples := cfg.SampleRate * cfg.WindowMs / 1000 // 300ms window

	// A single 300ms window of SDR speech is shorter than MinSegmentMs and
	// must be dropped.
	inbound := tone(windowSamples, 1000)
	outbound := make([]int16, windowSamples)

	segments := SegmentSpeakers(inbound, outbound, cfg)
	if len(segments) != 0 {
		t.Errorf("expected short segment to be dropped, got %+v", segments)
	}
}

func TestSegmentSpeakers_NoOverlapAndOrdered(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	windowSamples := cfg.SampleRate * cfg.WindowMs / 1000

	n := windowSamples * 10
	inbound := make([]int16, n)
	outbound := make([]int16, n)
	// SDR speaks in the first half, lead in the second half (past the
	// announcement window).
	cfg.AnnouncementWindowSec = 0
	for i := 0; i < n/2; i++ {
		inbound[i] = 1000 * int16(1-2*(i%2))
	}
	for i := n / 2; i < n; i++ {
		outbound[i] = 1000 * int16(1-2*(i%2))
	}

	segments := SegmentSpeakers(inbound, outbound, cfg)
	for i := 1; i < len(segments); i++ {
		if segments[i].StartSec < segments[i-1].EndSec {
			t.Errorf("segment %d overlaps previous: start=%f prevEnd=%f", i, segments[i].StartSec, segments[i-1].EndSec)
		}
		if segments[i].Speaker == segments[i-1].Speaker {
			t.Errorf("consecutive segments %d/%d have same speaker %s; should have been merged", i-1, i, segments[i].Speaker)
		}
	}
}

func TestMatchesAnnouncement(t *testing.T) {
	cases := []struct {
		text  string
		match bool
	}{
		{"Novo lead: Maria", true},
		{"conectando com o especialista", true},
		{"Não foi possível confirmar o atendimento", true},
		{"a ligação será encerrada agora", true},
		{"Oi, tudo bem? Pode falar", false},
		{"", false},
	}
	for _, c := range cases {
		if got := MatchesAnnouncement(c.text); got != c.match {
			t.Errorf("MatchesAnnouncement(%q) = %v, want %v", c.text, got, c.match)
		}
	}
}

func TestCorrectAnnouncementMisattribution(t *testing.T) {
	segments := []Segment{
		{Speaker: SpeakerLead, Text: "Novo lead: Maria", StartSec: 0, EndSec: 1},
		{Speaker: SpeakerLead, Text: "Oi, pode falar sim", StartSec: 1, EndSec: 2},
		{Speaker: SpeakerSDR, Text: "Novo lead: Maria", StartSec: 2, EndSec: 3},
	}
	corrected := CorrectAnnouncementMisattribution(segments)

	if corrected[0].Speaker != SpeakerBianca {
		t.Errorf("expected announcement-matching LEAD segment reassigned to BIANCA, got %s", corrected[0].Speaker)
	}
	if corrected[1].Speaker != SpeakerLead {
		t.Errorf("expected genuine LEAD speech to remain LEAD, got %s", corrected[1].Speaker)
	}
	if corrected[2].Speaker != SpeakerSDR {
		t.Errorf("SDR segments must never be reassigned, got %s", corrected[2].Speaker)
	}
}

func TestCombinedTranscript(t *testing.T) {
	segments := []Segment{
		{Speaker: SpeakerSDR, Text: "ok pode mandar"},
		{Speaker: SpeakerLead, Text: ""}, // empty text must be skipped
		{Speaker: SpeakerLead, Text: "alo"},
	}
	got := CombinedTranscript(segments)
	want := "[SDR]: ok pode mandar\n[LEAD]: alo"
	if got != want {
		t.Errorf("CombinedTranscript = %q, want %q", got, want)
	}
}

func TestSpeakerTranscript(t *testing.T) {
	segments := []Segment{
		{Speaker: SpeakerLead, Text: "oi"},
		{Speaker: SpeakerSDR, Text: "ignored"},
		{Speaker: SpeakerLead, Text: "tudo bem"},
	}
	got := SpeakerTranscript(segments, SpeakerLead)
	want := "oi tudo bem"
	if got != want {
		t.Errorf("SpeakerTranscript = %q, want %q", got, want)
	}
}
