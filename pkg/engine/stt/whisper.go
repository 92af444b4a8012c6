package stt

import (
	"context"
	"fmt"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go"
)

// WhisperEngine is the fabric's primary ASR backend: a locally warmed
// whisper.cpp model, loaded once at startup and reused across every
// call's chunks (§4.3: "own model/decoder state or its shared-context
// handle").
type WhisperEngine struct {
	model   whisper.Model
	context whisper.Context
	lang    string
}

// NewWhisperEngine loads modelPath and prepares a reusable decode
// context. threads controls the ctx's internal thread pool, wired from
// the component's --threads flag (§6).
func NewWhisperEngine(modelPath string, threads int, lang string) (*WhisperEngine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load whisper model %s: %w", modelPath, err)
	}

	ctx, err := model.NewContext()
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("stt: new whisper context: %w", err)
	}
	if threads > 0 {
		ctx.SetThreads(uint(threads))
	}
	if lang != "" {
		ctx.SetLanguage(lang)
	}

	return &WhisperEngine{model: model, context: ctx, lang: lang}, nil
}

// Transcribe decodes one chunk's float32 PCM @ 16kHz into text.
func (e *WhisperEngine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := e.context.Process(samples, nil, nil); err != nil {
		return "", fmt.Errorf("stt: whisper process: %w", err)
	}

	var b strings.Builder
	for {
		segment, err := e.context.NextSegment()
		if err != nil {
			break
		}
		b.WriteString(segment.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

func (e *WhisperEngine) Name() string { return "whisper" }

func (e *WhisperEngine) Close() error {
	return e.model.Close()
}
