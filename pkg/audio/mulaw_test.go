package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func bandLimitedSamples(n int, sampleRate int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(16000 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

// §8 round-trip law: µ-law encode∘decode on telephony-band PCM is within a
// bounded per-sample error (<= 2^-7 normalized).
func TestMulawRoundTripBoundedError(t *testing.T) {
	pcm := bandLimitedSamples(8000, 8000, 440)
	encoded := EncodePCM16ToMulaw(pcm)
	decoded := DecodeMulawToPCM16(encoded)

	const maxErr = 1.0 / 128.0 // 2^-7 normalized
	for i := range pcm {
		orig := float64(pcm[i]) / 32768.0
		got := float64(decoded[i]) / 32768.0
		diff := math.Abs(orig - got)
		if diff > maxErr {
			t.Fatalf("sample %d: error %f exceeds %f", i, diff, maxErr)
		}
	}
}

func TestSilenceFrameIsAllFF(t *testing.T) {
	f := SilenceFrame()
	require.Len(t, f, FrameBytes)
	require.True(t, IsSilence(f))
	f[0] = 0x00
	require.False(t, IsSilence(f))
}

func TestEncodeDecodeSilenceRoundtrip(t *testing.T) {
	zero := make([]int16, 160)
	enc := EncodePCM16ToMulaw(zero)
	// Digital silence at PCM16 0 encodes to the conventional µ-law silence byte.
	require.Equal(t, byte(SilenceByte), enc[0])
}

func TestFloat32PCM16RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	pcm := Float32ToPCM16(samples)
	back := PCM16ToFloat32(pcm)
	for i := range samples {
		require.InDelta(t, float64(samples[i]), float64(back[i]), 1.0/32768.0*2)
	}
}
