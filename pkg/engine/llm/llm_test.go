package llm

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

func (f *fakeEngine) Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
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
	return "  reply text  ", nil
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Close() error { return nil }

func TestSerializedEngineRunsOneCallAtATime(t *testing.T) {
	inner := &fakeEngine{}
	s := NewSerialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reply(context.Background(), DefaultSystemPrompt, nil, "hi")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), inner.maxSeen)
}

func TestSerializedEngineDelegatesNameAndClose(t *testing.T) {
	inner := &fakeEngine{}
	s := NewSerialized(inner)
	require.Equal(t, "fake", s.Name())
	require.NoError(t, s.Close())
}
