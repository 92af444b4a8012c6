package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sineFloat32(n int, sampleRate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(0.4 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func TestResampleIdentityWhenRatesMatch(t *testing.T) {
	in := sineFloat32(100, 8000, 300)
	out := Resample(in, 8000, 8000)
	require.Equal(t, in, out)
}

// §8 round-trip law: 8->16->8kHz resample on band-limited audio only
// differs from identity within the resampler's ringing window; we check
// energy is preserved to a loose bound well outside that window.
func TestResample8To16To8PreservesEnergy(t *testing.T) {
	in := sineFloat32(1600, 8000, 300) // 200ms at 8kHz, well within telephony band
	up := Resample(in, 8000, 16000)
	down := Resample(up, 16000, 8000)

	require.InDelta(t, len(in), len(down), 4)

	origEnergy, gotEnergy := 0.0, 0.0
	// skip the resampler's edge window on both sides
	skip := 20
	for i := skip; i < len(in)-skip && i < len(down)-skip; i++ {
		origEnergy += float64(in[i]) * float64(in[i])
		gotEnergy += float64(down[i]) * float64(down[i])
	}
	require.InEpsilon(t, origEnergy, gotEnergy, 0.05)
}

func TestResampleUpsampleDoublesLength(t *testing.T) {
	in := sineFloat32(160, 8000, 300)
	out := Resample(in, 8000, 16000)
	require.InDelta(t, len(in)*2, len(out), 2)
}
