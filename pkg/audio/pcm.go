package audio

import (
	"encoding/binary"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the capture and synthesis format used throughout a
// training session: 16 kHz mono, little-endian int16 PCM.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the number of PCM16 bytes one second of audio
// occupies in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Samples16 decodes little-endian int16 PCM into samples. A trailing odd byte
// is ignored.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PutSamples16 encodes samples into dst as little-endian int16 PCM. dst must
// hold at least 2*len(samples) bytes.
func PutSamples16(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// Clamp16 rounds v and saturates it to the int16 range.
func Clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root-mean-square amplitude of a PCM16 chunk normalised to
// [0, 1]. An empty chunk has zero energy.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// ResampleMono16 resamples 16-bit mono PCM by the given rate ratio using
// linear interpolation. A ratio above 1 shortens the signal (faster, higher
// pitched), below 1 lengthens it. A non-positive ratio returns pcm unchanged.
func ResampleMono16(pcm []byte, ratio float64) []byte {
	if ratio <= 0 || ratio == 1 || len(pcm) < 2 {
		return pcm
	}
	src := Samples16(pcm)
	dstLen := int(float64(len(src)) / ratio)
	if dstLen == 0 {
		return nil
	}

	dst := make([]int16, dstLen)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := src[min(idx, len(src)-1)]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		dst[i] = Clamp16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	out := make([]byte, dstLen*2)
	PutSamples16(out, dst)
	return out
}

// FitLength returns pcm truncated or zero-padded to exactly n bytes. When pcm
// is shorter than n, the remainder is filled by looping pcm from the start so
// that short effects do not leave a silent tail.
func FitLength(pcm []byte, n int) []byte {
	out := make([]byte, n)
	if len(pcm) == 0 {
		return out
	}
	for off := 0; off < n; off += len(pcm) {
		copy(out[off:], pcm)
	}
	return out
}

// Duration returns how long pcm plays for in format f.
func Duration(pcm []byte, f Format) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(len(pcm)) / float64(bps)
}

// Silence returns seconds worth of zeroed PCM16 in format f.
func Silence(seconds float64, f Format) []byte {
	n := int(seconds * float64(f.BytesPerSecond()))
	n -= n % 2
	if n < 0 {
		n = 0
	}
	return make([]byte, n)
}
