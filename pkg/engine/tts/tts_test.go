package tts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	warmed []string
}

func (f *fakeEngine) SynthesizeStream(ctx context.Context, text string, voice string, onChunk func([]float32) error) error {
	return onChunk([]float32{0.1, 0.2})
}

func (f *fakeEngine) Warm(ctx context.Context, phrase string) error {
	f.warmed = append(f.warmed, phrase)
	return nil
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Close() error { return nil }

func TestWarmUpRunsEveryPhrase(t *testing.T) {
	e := &fakeEngine{}
	require.NoError(t, WarmUp(context.Background(), e))
	require.Equal(t, WarmUpPhrases, e.warmed)
}

func TestDecodePCM16LEToFloat32(t *testing.T) {
	// 0x0000 0x4000 (16384 -> 0.5) little-endian
	raw := []byte{0x00, 0x00, 0x00, 0x40}
	out := decodePCM16LEToFloat32(raw)
	require.Len(t, out, 2)
	require.InDelta(t, 0.0, out[0], 1e-6)
	require.InDelta(t, 0.5, out[1], 1e-3)
}
