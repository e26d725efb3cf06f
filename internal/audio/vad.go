package audio

import (
	"math"
	"regexp"
	"strings"
)

// Speaker identifies which party produced a segment of the stereo recording.
type Speaker string

const (
	SpeakerSDR     Speaker = "SDR"
	SpeakerLead    Speaker = "LEAD"
	SpeakerBianca  Speaker = "BIANCA"
	SpeakerSilence Speaker = "SILENCE"
)

// Segment is one contiguous span attributed to a single speaker.
type Segment struct {
	Speaker      Speaker
	StartSec     float64
	EndSec       float64
	Text         string // filled in by the caller after transcription
}

// SegmenterConfig tunes the RMS-window speaker segmenter.
type SegmenterConfig struct {
	SampleRate            int
	WindowMs              int
	EnergyFloor           float64
	DominanceRatio        float64 // SDR must exceed outbound energy by this ratio
	WeakerDominanceRatio  float64 // outbound need only reach this ratio of SDR energy
	AnnouncementWindowSec float64
	MinSegmentMs          int
	MergeSilenceMs        int
}

// DefaultSegmenterConfig returns the default VAD thresholds used when no
// tuning override is configured.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:            8000,
		WindowMs:              300,
		EnergyFloor:           50,
		DominanceRatio:        1.2,
		WeakerDominanceRatio:  0.8,
		AnnouncementWindowSec: 12,
		MinSegmentMs:          500,
		MergeSilenceMs:        1000,
	}
}

// SegmentSpeakers classifies speakers over two synchronized PCM16 tracks:
// inbound is the SDR side (right channel), outbound is the lead/announcement
// side (left channel). It windows both tracks, computes RMS energy per
// window, assigns a speaker per the dominance rules below, merges
// near-adjacent same-speaker runs, and drops segments shorter than
// MinSegmentMs.
func SegmentSpeakers(inbound, outbound []int16, cfg SegmenterConfig) []Segment {
	windowSamples := cfg.SampleRate * cfg.WindowMs / 1000
	if windowSamples <= 0 {
		return nil
	}

	n := len(inbound)
	if len(outbound) > n {
		n = len(outbound)
	}

	raw := classifyWindows(inbound, outbound, n, windowSamples, cfg)
	merged := mergeRuns(raw, cfg)
	return dropShort(merged, cfg.MinSegmentMs)
}

type windowCall struct {
	speaker  Speaker
	startSec float64
	endSec   float64
}

func classifyWindows(inbound, outbound []int16, n, windowSamples int, cfg SegmenterConfig) []windowCall {
	var calls []windowCall
	rate := float64(cfg.SampleRate)

	for start := 0; start < n; start += windowSamples {
		end := start + windowSamples
		if end > n {
			end = n
		}
		sdrEnergy := rmsWindow(inbound, start, end)
		leadEnergy := rmsWindow(outbound, start, end)

		startSec := float64(start) / rate
		speaker := classifyWindow(sdrEnergy, leadEnergy, startSec, cfg)

		calls = append(calls, windowCall{speaker: speaker, startSec: startSec, endSec: float64(end) / rate})
	}
	return calls
}

func classifyWindow(sdrEnergy, outboundEnergy, startSec float64, cfg SegmenterConfig) Speaker {
	if sdrEnergy > cfg.EnergyFloor && sdrEnergy > outboundEnergy*cfg.DominanceRatio {
		return SpeakerSDR
	}
	if outboundEnergy > cfg.EnergyFloor && outboundEnergy >= sdrEnergy*cfg.WeakerDominanceRatio {
		if startSec < cfg.AnnouncementWindowSec {
			return SpeakerBianca
		}
		return SpeakerLead
	}
	return SpeakerSilence
}

func rmsWindow(samples []int16, start, end int) float64 {
	if start >= len(samples) {
		return 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if end <= start {
		return 0
	}
	var sumSq float64
	for i := start; i < end; i++ {
		v := float64(samples[i])
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(end-start))
}

// mergeRuns collapses consecutive windows of the same speaker into a single
// segment, and merges two same-speaker segments separated by a silence gap
// shorter than MergeSilenceMs.
func mergeRuns(calls []windowCall, cfg SegmenterConfig) []Segment {
	var segments []Segment
	var silenceRun []windowCall

	for _, c := range calls {
		if c.speaker == SpeakerSilence {
			silenceRun = append(silenceRun, c)
			continue
		}
		segments, silenceRun = appendOrMerge(segments, silenceRun, c, cfg)
	}
	return segments
}

func appendOrMerge(segments []Segment, silenceRun []windowCall, c windowCall, cfg SegmenterConfig) ([]Segment, []windowCall) {
	if len(segments) == 0 {
		return append(segments, Segment{Speaker: c.speaker, StartSec: c.startSec, EndSec: c.endSec}), nil
	}

	last := &segments[len(segments)-1]
	silenceMs := silenceDurationMs(silenceRun)

	if last.Speaker == c.speaker && silenceMs < float64(cfg.MergeSilenceMs) {
		last.EndSec = c.endSec
		return segments, nil
	}

	return append(segments, Segment{Speaker: c.speaker, StartSec: c.startSec, EndSec: c.endSec}), nil
}

func silenceDurationMs(run []windowCall) float64 {
	if len(run) == 0 {
		return 0
	}
	return (run[len(run)-1].endSec - run[0].startSec) * 1000
}

func dropShort(segments []Segment, minMs int) []Segment {
	out := make([]Segment, 0, len(segments))
	minSec := float64(minMs) / 1000
	for _, s := range segments {
		if s.EndSec-s.StartSec >= minSec {
			out = append(out, s)
		}
	}
	return out
}

// announcementPatterns are the known phrases from the pre-recorded BIANCA
// prompt. A LEAD segment whose transcript matches one of these is actually
// TTS ring-down misattributed to the lead channel.
var announcementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)novo lead`),
	regexp.MustCompile(`(?i)conectando com o`),
	regexp.MustCompile(`(?i)n[aã]o foi poss[ií]vel confirmar`),
	regexp.MustCompile(`(?i)a liga[cç][aã]o ser[aá] encerrada`),
	regexp.MustCompile(`(?i)diga algo para confirmar`),
}

// MatchesAnnouncement reports whether text matches a known BIANCA phrase.
func MatchesAnnouncement(text string) bool {
	for _, p := range announcementPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// CorrectAnnouncementMisattribution reassigns LEAD segments whose transcript
// matches an announcement pattern to BIANCA. Mutates and returns the same
// slice.
func CorrectAnnouncementMisattribution(segments []Segment) []Segment {
	for i := range segments {
		if segments[i].Speaker == SpeakerLead && MatchesAnnouncement(segments[i].Text) {
			segments[i].Speaker = SpeakerBianca
		}
	}
	return segments
}

// CombinedTranscript renders "[SPEAKER]: text" lines in segment order.
func CombinedTranscript(segments []Segment) string {
	var b strings.Builder
	for i, s := range segments {
		if s.Text == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(string(s.Speaker))
		b.WriteString("]: ")
		b.WriteString(s.Text)
	}
	return b.String()
}

// SpeakerTranscript concatenates the text of all segments for one speaker,
// in order, separated by a space.
func SpeakerTranscript(segments []Segment, speaker Speaker) string {
	var parts []string
	for _, s := range segments {
		if s.Speaker == speaker && s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}
