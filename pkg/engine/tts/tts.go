// Package tts adapts the warmed speech-synthesis primitive the
// Synthesizer drives (§4.5): synth(text, voice) -> iterator<float32 PCM
// @ 24kHz>, a lazy stream so the first subchunk can reach OAP in
// 100-300ms without waiting for the whole utterance.
package tts

import "context"

// SampleRate is the synthesis output rate the wire format assumes
// before OAP's 24->8kHz downsample (§4.5, §4.6).
const SampleRate = 24000

// Engine is the TTS primitive every Synthesizer binary drives.
type Engine interface {
	// SynthesizeStream streams float32 PCM @ SampleRate to onChunk as
	// soon as each piece is ready. It returns once the utterance is
	// complete or ctx is cancelled.
	SynthesizeStream(ctx context.Context, text string, voice string, onChunk func([]float32) error) error

	// Warm synthesizes a short canned phrase and discards the audio, to
	// compile kernels and eliminate cold-start latency (§4.5).
	Warm(ctx context.Context, phrase string) error

	Name() string
	Close() error
}

// WarmUpPhrases are the canned phrases S synthesizes at startup.
var WarmUpPhrases = []string{
	"Hello, how can I help you today?",
	"One moment please.",
	"Thanks for calling.",
}

// WarmUp runs every phrase in WarmUpPhrases through e.Warm, stopping at
// the first error.
func WarmUp(ctx context.Context, e Engine) error {
	for _, phrase := range WarmUpPhrases {
		if err := e.Warm(ctx, phrase); err != nil {
			return err
		}
	}
	return nil
}
