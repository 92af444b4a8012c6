package iap

import (
	"testing"

	"github.com/chtugha/callfabric/pkg/ring"
	"github.com/chtugha/callfabric/pkg/vad"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}

func newTestCall(t *testing.T, callID int) *Call {
	t.Helper()
	_, err := ring.Create(ring.Name("ap_in", callID), callID, ring.DefaultSlotSize, ring.DefaultSlotCount)
	require.NoError(t, err)

	call, err := NewCall(callID, "127.0.0.1:0", testLogger{}, nil)
	require.NoError(t, err)
	return call
}

func TestNewCallOpensInboundRingAndStopsCleanly(t *testing.T) {
	const callID = 101

	call := newTestCall(t, callID)
	call.Stop()

	// IAP only closes its consumer handle; SE created the inbound ring and
	// is the side that unlinks it.
	r, err := ring.Open(ring.Name("ap_in", callID), ring.Consumer)
	require.NoError(t, err, "inbound ring should still exist after IAP Stop")
	r.Close()
	ring.Unlink(ring.Name("ap_in", callID))
}

func TestEnqueueDropsOldestBeyondQueueCap(t *testing.T) {
	const callID = 102
	call := newTestCall(t, callID)
	defer call.Stop()

	for i := 0; i < QueueCap+5; i++ {
		call.enqueue([]float32{float32(i)})
	}

	call.queueMu.Lock()
	qlen := len(call.queue)
	dropped := call.dropped
	first := call.queue[0][0]
	call.queueMu.Unlock()

	require.Equal(t, QueueCap, qlen)
	require.Equal(t, 5, dropped)
	require.Equal(t, float32(5), first, "oldest 5 entries should have been dropped")
}

func TestDequeueReturnsInFIFOOrder(t *testing.T) {
	const callID = 103
	call := newTestCall(t, callID)
	defer call.Stop()

	call.enqueue([]float32{1})
	call.enqueue([]float32{2})

	s, ok := call.dequeue()
	require.True(t, ok)
	require.Equal(t, []float32{1}, s)

	s, ok = call.dequeue()
	require.True(t, ok)
	require.Equal(t, []float32{2}, s)

	_, ok = call.dequeue()
	require.False(t, ok)
}

func TestStopFlushesInProgressChunkAboveMinimumDuration(t *testing.T) {
	const callID = 104
	call := newTestCall(t, callID)

	// Feed enough above-threshold windows to exceed vad.MinChunkMs without
	// ever crossing back below the stop threshold, leaving an in-progress
	// recording for Stop to flush.
	minWindows := (vad.DefaultParams().MinChunkMs / vad.WindowMs) + 2
	loud := make([]float32, vad.WindowSamples)
	for i := range loud {
		loud[i] = 0.9
	}
	for i := 0; i < minWindows; i++ {
		call.det.Process(loud)
	}

	call.Stop()

	call.queueMu.Lock()
	qlen := len(call.queue)
	call.queueMu.Unlock()
	require.Equal(t, 1, qlen, "in-progress speech above minimum duration should be flushed on Stop")
}

func TestComponentActivateDeactivateLifecycle(t *testing.T) {
	const callID = 105
	_, err := ring.Create(ring.Name("ap_in", callID), callID, ring.DefaultSlotSize, ring.DefaultSlotCount)
	require.NoError(t, err)

	c := NewComponent("127.0.0.1:1", testLogger{}, nil)

	require.NoError(t, c.Activate(callID))
	require.Error(t, c.Activate(callID), "double activate should fail")

	require.NoError(t, c.Deactivate(callID))
	require.Error(t, c.Deactivate(callID), "double deactivate should fail")

	ring.Unlink(ring.Name("ap_in", callID))
}

func TestComponentShutdownStopsAllCalls(t *testing.T) {
	const callA, callB = 106, 107
	_, err := ring.Create(ring.Name("ap_in", callA), callA, ring.DefaultSlotSize, ring.DefaultSlotCount)
	require.NoError(t, err)
	_, err = ring.Create(ring.Name("ap_in", callB), callB, ring.DefaultSlotSize, ring.DefaultSlotCount)
	require.NoError(t, err)

	c := NewComponent("127.0.0.1:1", testLogger{}, nil)
	require.NoError(t, c.Activate(callA))
	require.NoError(t, c.Activate(callB))

	require.NoError(t, c.Shutdown())

	require.Empty(t, c.calls)
	ring.Unlink(ring.Name("ap_in", callA))
	ring.Unlink(ring.Name("ap_in", callB))
}
