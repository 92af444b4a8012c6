package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// LokutorEngine streams synthesis over a persistent websocket connection
// to the Lokutor TTS service, the teacher's own vendor (kept verbatim as
// the fabric's streaming TTS backend — see DESIGN.md).
type LokutorEngine struct {
	apiKey string
	host   string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLokutorEngine builds a TTS engine against api.lokutor.com.
func NewLokutorEngine(apiKey string) *LokutorEngine {
	return &LokutorEngine{apiKey: apiKey, host: "api.lokutor.com"}
}

func (e *LokutorEngine) getConn(ctx context.Context) (*websocket.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn, nil
	}

	u := url.URL{Scheme: "wss", Host: e.host, Path: "/ws", RawQuery: "api_key=" + e.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts: connect lokutor: %w", err)
	}
	e.conn = conn
	return conn, nil
}

// SynthesizeStream requests synthesis at SampleRate and decodes each
// binary frame (PCM16LE) into float32 PCM as it arrives.
func (e *LokutorEngine) SynthesizeStream(ctx context.Context, text string, voice string, onChunk func([]float32) error) error {
	conn, err := e.getConn(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	req := map[string]interface{}{
		"text":        text,
		"voice":       voice,
		"sample_rate": SampleRate,
		"speed":       1.05,
		"steps":       5,
		"version":     "versa-1.0",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		e.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "write failed")
		return fmt.Errorf("tts: send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			e.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "read failed")
			return fmt.Errorf("tts: read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(decodePCM16LEToFloat32(payload)); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("tts: lokutor error: %s", msg)
			}
		}
	}
}

// Warm synthesizes a short phrase and discards the audio.
func (e *LokutorEngine) Warm(ctx context.Context, phrase string) error {
	return e.SynthesizeStream(ctx, phrase, "default", func([]float32) error { return nil })
}

func (e *LokutorEngine) Name() string { return "lokutor" }

func (e *LokutorEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		err := e.conn.Close(websocket.StatusNormalClosure, "")
		e.conn = nil
		return err
	}
	return nil
}

func decodePCM16LEToFloat32(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(b[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
