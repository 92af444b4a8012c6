package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllInstruments(t *testing.T) {
	tel, err := New("test-component")
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	require.NotNil(t, tel.RingDrops)
	require.NotNil(t, tel.QueueDrops)
	require.NotNil(t, tel.RTPFramesSent)
	require.NotNil(t, tel.FastStartLatency)
	require.NotNil(t, tel.HalfDuplexDuration)
	require.NotNil(t, tel.ActiveCalls)
}

func TestCountersAcceptIncrements(t *testing.T) {
	tel, err := New("test-component-2")
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	ctx := context.Background()
	tel.RingDrops.Add(ctx, 1)
	tel.QueueDrops.Add(ctx, 3)
	tel.RTPFramesSent.Add(ctx, 50)
	tel.FastStartLatency.Record(ctx, 42.5)
	tel.HalfDuplexDuration.Record(ctx, 1800)
	tel.ActiveCalls.Add(ctx, 1)
	tel.ActiveCalls.Add(ctx, -1)
}
