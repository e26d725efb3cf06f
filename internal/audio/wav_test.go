package audio

import (
	"bytes"
	"testing"
)

func TestMonoWAV_Header(t *testing.T) {
	pcm := []int16{0, 100, -100, 200}
	data, err := MonoWAV(pcm, 8000)
	if err != nil {
		t.Fatalf("MonoWAV: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Errorf("expected RIFF header, got %x", data[:4])
	}
	if !bytes.Contains(data[:12], []byte("WAVE")) {
		t.Errorf("expected WAVE marker")
	}
}

func TestStereoWAV_PadsShorterChannel(t *testing.T) {
	left := []int16{1, 2, 3, 4}
	right := []int16{10, 20}

	data, err := StereoWAV(left, right, 8000)
	if err != nil {
		t.Fatalf("StereoWAV: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty wav bytes")
	}
}

func TestStereoWAV_EmptyChannels(t *testing.T) {
	data, err := StereoWAV(nil, nil, 8000)
	if err != nil {
		t.Fatalf("StereoWAV with empty channels: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected a valid (empty-audio) wav header")
	}
}
