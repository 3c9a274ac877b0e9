package disruption

import (
	"math"
	"math/rand/v2"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// noiseScale is the peak noise amplitude at intensity 1, as a fraction of
// full scale.
const noiseScale = 0.5

// noiseState carries filter memory between buffers so that coloured noise
// stays continuous across chunk boundaries.
type noiseState struct {
	b0, b1, b2 float64 // pink filter
	brown      float64
	phase      float64 // seconds since first sample, for modulated types
}

// applyVoice resamples pcm by pitch×speed, refits it to the original length
// and blends it with the dry signal by p.Intensity. A trailing odd byte is
// copied through.
func applyVoice(pcm []byte, p VoiceParams) []byte {
	even := len(pcm) &^ 1
	out := make([]byte, len(pcm))
	copy(out[even:], pcm[even:])
	if even == 0 {
		return out
	}

	wet := audio.Samples16(audio.FitLength(audio.ResampleMono16(pcm[:even], p.Pitch*p.Speed), even))
	dry := audio.Samples16(pcm[:even])
	mix := min(max(p.Intensity, 0), 1)
	res := make([]int16, len(dry))
	for i := range dry {
		res[i] = audio.Clamp16(float64(dry[i])*(1-mix) + float64(wet[i])*mix)
	}
	audio.PutSamples16(out, res)
	return out
}

// mixNoise adds generated noise of the given type at intensity to pcm and
// returns a new buffer of the same length.
func mixNoise(pcm []byte, nt NoiseType, intensity float64, rng *rand.Rand, st *noiseState, sampleRate int) []byte {
	even := len(pcm) &^ 1
	out := make([]byte, len(pcm))
	copy(out[even:], pcm[even:])
	if even == 0 {
		return out
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultFormat.SampleRate
	}
	dt := 1 / float64(sampleRate)
	amp := intensity * noiseScale * math.MaxInt16

	samples := audio.Samples16(pcm[:even])
	for i, s := range samples {
		n := nextNoise(nt, rng, st)
		st.phase += dt
		samples[i] = audio.Clamp16(float64(s) + n*amp)
	}
	audio.PutSamples16(out, samples)
	return out
}

// nextNoise returns one noise sample in roughly [-1, 1].
func nextNoise(nt NoiseType, rng *rand.Rand, st *noiseState) float64 {
	w := rng.Float64()*2 - 1
	switch nt {
	case NoisePink:
		return pink(w, st)
	case NoiseBrown:
		return brown(w, st)
	case NoiseCrowd:
		// Babble: pink noise with a slow syllable-rate swell.
		return pink(w, st) * (0.6 + 0.4*math.Sin(2*math.Pi*3*st.phase))
	case NoiseTraffic:
		// Rumble with passing-vehicle swells.
		return brown(w, st) * (0.5 + 0.5*math.Sin(2*math.Pi*0.3*st.phase))
	case NoiseStatic:
		if rng.Float64() < 0.002 {
			if w < 0 {
				return -1
			}
			return 1
		}
		return w * 0.3
	default:
		return w
	}
}

// pink applies Paul Kellet's economy pink filter.
func pink(w float64, st *noiseState) float64 {
	st.b0 = 0.99765*st.b0 + w*0.0990460
	st.b1 = 0.96300*st.b1 + w*0.2965164
	st.b2 = 0.57000*st.b2 + w*1.0526913
	return clampUnit((st.b0 + st.b1 + st.b2 + w*0.1848) * 0.25)
}

func brown(w float64, st *noiseState) float64 {
	st.brown = (st.brown + 0.02*w) / 1.02
	return clampUnit(st.brown * 3.5)
}

func clampUnit(v float64) float64 {
	return min(max(v, -1), 1)
}
