package audio

import (
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// memWriteSeeker is a minimal in-memory io.WriteSeeker, since go-audio/wav's
// Encoder writes to a seekable sink (it back-patches the RIFF/data sizes on
// Close) and we want the encoded bytes in memory rather than on disk.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case 0:
		base = 0
	case 1:
		base = m.pos
	case 2:
		base = len(m.buf)
	default:
		return 0, fmt.Errorf("memWriteSeeker: invalid whence %d", whence)
	}
	newPos := base + int(offset)
	if newPos < 0 {
		return 0, fmt.Errorf("memWriteSeeker: negative seek position")
	}
	m.pos = newPos
	return int64(newPos), nil
}

// MonoWAV encodes mono PCM16 samples as a WAV byte slice at the given sample rate.
func MonoWAV(pcm []int16, rate int) ([]byte, error) {
	return encodeWAV(pcm, rate, 1)
}

// StereoWAV interleaves left/right PCM16 channels (left, right = left, right,
// ...) into a stereo WAV. By convention the lead is placed on the left
// channel and the SDR on the right.
func StereoWAV(left, right []int16, rate int) ([]byte, error) {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	interleaved := make([]int16, n*2)
	for i := 0; i < n; i++ {
		if i < len(left) {
			interleaved[i*2] = left[i]
		}
		if i < len(right) {
			interleaved[i*2+1] = right[i]
		}
	}
	return encodeWAV(interleaved, rate, 2)
}

func encodeWAV(samples []int16, rate, numChannels int) ([]byte, error) {
	sink := &memWriteSeeker{}
	enc := wav.NewEncoder(sink, rate, 16, numChannels, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav encode write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav encode close: %w", err)
	}
	return sink.buf, nil
}
