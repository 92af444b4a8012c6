package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chtugha/callfabric/pkg/audio"
)

// OpenAICloudEngine is the fabric's hosted ASR fallback, used when a
// component is configured without a local warmed model. It replaces the
// teacher's hand-rolled multipart HTTP client (see DESIGN.md) with the
// official client.
type OpenAICloudEngine struct {
	client openai.Client
	model  string
}

// NewOpenAICloudEngine builds a cloud ASR engine (defaults to whisper-1).
func NewOpenAICloudEngine(apiKey string, model string) *OpenAICloudEngine {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAICloudEngine{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (e *OpenAICloudEngine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	pcm := audio.Float32ToPCM16(samples)
	wav := audio.NewWavBuffer(int16BytesLE(pcm), SampleRate)

	resp, err := e.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: e.model,
		File:  bytes.NewReader(wav),
	})
	if err != nil {
		return "", fmt.Errorf("stt: openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (e *OpenAICloudEngine) Name() string { return "openai-cloud" }
func (e *OpenAICloudEngine) Close() error { return nil }

func int16BytesLE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
