package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	concurrent int32
	maxSeen    int32
}

func (f *fakeEngine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	n := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen {
			break
		}
		if atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "hello", nil
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Close() error { return nil }

func TestSerializedEngineRunsOneTranscribeAtATime(t *testing.T) {
	inner := &fakeEngine{}
	s := NewSerialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transcribe(context.Background(), make([]float32, 320))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), inner.maxSeen)
}

func TestInt16BytesLERoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768}
	raw := int16BytesLE(pcm)
	require.Len(t, raw, len(pcm)*2)
	for i, s := range pcm {
		require.Equal(t, s, int16(uint16(raw[2*i])|uint16(raw[2*i+1])<<8))
	}
}
