package audio

// Chunk is a single timestamped mu-law frame as delivered by the provider.
// Timestamp is milliseconds since stream start (provider-supplied, monotonic).
type Chunk struct {
	TimestampMs int64
	Payload     []byte
}

// SynchronizeTracks aligns two independently-timestamped mu-law chunk
// sequences onto a shared sample timeline. It finds the earliest and latest
// timestamps across both tracks, allocates silence buffers spanning that
// whole window, and drops each chunk's decoded samples at its
// timestamp-derived offset. This is what lets a multi-second gap between SDR
// pickup and lead answer line up correctly in the final stereo recording
// instead of playing both tracks back from zero.
func SynchronizeTracks(inbound, outbound []Chunk, rate int) (left, right []int16) {
	globalStart, globalEnd, ok := trackWindow(inbound, outbound)
	if !ok {
		return nil, nil
	}

	spanMs := globalEnd - globalStart
	numSamples := int(ceilDiv(spanMs*int64(rate), 1000))

	left = make([]int16, numSamples)
	right = make([]int16, numSamples)

	placeChunks(outbound, globalStart, rate, left)
	placeChunks(inbound, globalStart, rate, right)

	return left, right
}

// trackWindow computes [globalStart, globalEnd) across both tracks.
// globalEnd is the last chunk's timestamp plus one 20ms frame, so the final
// frame's samples fit inside the allocated buffer.
func trackWindow(inbound, outbound []Chunk) (int64, int64, bool) {
	const frameMs = 20

	first, firstOK := firstTimestamp(inbound)
	second, secondOK := firstTimestamp(outbound)
	if !firstOK && !secondOK {
		return 0, 0, false
	}

	lastIn, lastInOK := lastTimestamp(inbound)
	lastOut, lastOutOK := lastTimestamp(outbound)

	start := minDefined(first, firstOK, second, secondOK)
	end := maxDefined(lastIn, lastInOK, lastOut, lastOutOK) + frameMs

	return start, end, true
}

func firstTimestamp(chunks []Chunk) (int64, bool) {
	if len(chunks) == 0 {
		return 0, false
	}
	return chunks[0].TimestampMs, true
}

func lastTimestamp(chunks []Chunk) (int64, bool) {
	if len(chunks) == 0 {
		return 0, false
	}
	return chunks[len(chunks)-1].TimestampMs, true
}

func minDefined(a int64, aOK bool, b int64, bOK bool) int64 {
	switch {
	case aOK && bOK:
		if a < b {
			return a
		}
		return b
	case aOK:
		return a
	default:
		return b
	}
}

func maxDefined(a int64, aOK bool, b int64, bOK bool) int64 {
	switch {
	case aOK && bOK:
		if a > b {
			return a
		}
		return b
	case aOK:
		return a
	default:
		return b
	}
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// placeChunks decodes each chunk and copies its samples into dst at the
// offset implied by its timestamp relative to globalStart. Overlapping
// chunks overwrite in delivery order, since chunks are iterated in the
// order they were appended.
func placeChunks(chunks []Chunk, globalStart int64, rate int, dst []int16) {
	for _, c := range chunks {
		offsetMs := c.TimestampMs - globalStart
		sampleOffset := int((offsetMs * int64(rate)) / 1000)
		samples := MuLawToPCM16(c.Payload)
		copyClipped(dst, samples, sampleOffset)
	}
}

// copyClipped copies src into dst starting at offset, clipping to dst's bounds.
func copyClipped(dst, src []int16, offset int) {
	if offset < 0 {
		src = src[min(len(src), -offset):]
		offset = 0
	}
	if offset >= len(dst) {
		return
	}
	n := len(src)
	if offset+n > len(dst) {
		n = len(dst) - offset
	}
	copy(dst[offset:offset+n], src[:n])
}
